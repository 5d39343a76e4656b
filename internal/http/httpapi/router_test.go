package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"assetforge/internal/cache"
	"assetforge/internal/domain"
	"assetforge/internal/http/handlers"
	"assetforge/internal/quota"
)

type fixedOrchestrator struct{}

func (fixedOrchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.Outcome, error) {
	return &domain.Outcome{
		CanonicalKey: "rock",
		Source:       domain.SourceCache,
		Artifact:     &domain.CachedArtifact{CanonicalKey: "rock", ArtifactLocation: "https://cdn/rock.glb"},
	}, nil
}

func (fixedOrchestrator) InFlight() int { return 0 }

func newTestRouter(limit int) http.Handler {
	logger := zerolog.New(io.Discard)
	app := handlers.NewApp(fixedOrchestrator{}, quota.NewLedger(map[string]int{"model": 1}), cache.New(cache.NewMemoryRepository(), logger), logger)
	return NewRouter(app, RouterOptions{Logger: logger, RateLimitPerMin: limit, AllowedOrigins: []string{"https://editor.example.com"}})
}

func TestRouterServesRoutes(t *testing.T) {
	h := newTestRouter(10)
	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{method: http.MethodGet, path: "/v1/healthz", want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/openapi.json", want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/docs", want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/quota/model", want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/artifacts/skybox", want: http.StatusOK},
		{method: http.MethodPost, path: "/v1/generations", body: `{"prompt":"rock"}`, want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/unknown", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s %s missing request id", tc.method, tc.path)
		}
	}
}

func TestRouterRateLimitsGenerationsOnly(t *testing.T) {
	h := newTestRouter(1)
	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(`{"prompt":"rock"}`))
		req.RemoteAddr = "203.0.113.9:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if got := post(); got != http.StatusOK {
		t.Fatalf("first post = %d", got)
	}
	if got := post(); got != http.StatusTooManyRequests {
		t.Fatalf("second post = %d, want 429", got)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.RemoteAddr = "203.0.113.9:1000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz limited: %d", rec.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	h := newTestRouter(10)
	req := httptest.NewRequest(http.MethodOptions, "/v1/generations", nil)
	req.Header.Set("Origin", "https://editor.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://editor.example.com" {
		t.Fatalf("missing allow-origin header")
	}
}
