package httpapi

import (
	"net/http"
	"time"

	"assetforge/internal/http/handlers"
	"assetforge/internal/infra"
	"assetforge/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterOptions carries the knobs of the HTTP surface.
type RouterOptions struct {
	Logger          infra.Logger
	RateLimitPerMin int
	AllowedOrigins  []string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).
		Post("/v1/generations", app.GenerationsCreate)

	r.Get("/v1/quota/{provider}", app.Quota)
	r.Get("/v1/artifacts/{provider}", app.Artifacts)

	return r
}
