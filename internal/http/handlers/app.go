package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"assetforge/internal/cache"
	"assetforge/internal/domain"
	"assetforge/internal/infra"
	"assetforge/internal/quota"
)

// Orchestrator is what the generation endpoints need from the pipeline.
type Orchestrator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.Outcome, error)
	InFlight() int
}

type App struct {
	Orchestrator Orchestrator
	Ledger       *quota.Ledger
	Cache        *cache.ArtifactCache
	Logger       infra.Logger
	StartedAt    time.Time
}

func NewApp(orch Orchestrator, ledger *quota.Ledger, artifacts *cache.ArtifactCache, logger infra.Logger) *App {
	return &App{
		Orchestrator: orch,
		Ledger:       ledger,
		Cache:        artifacts,
		Logger:       logger,
		StartedAt:    time.Now(),
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	domain.CodeQuotaExceeded:      http.StatusForbidden,
	domain.CodeInsufficientCredit: http.StatusPaymentRequired,
	domain.CodeRateLimited:        http.StatusTooManyRequests,
	domain.CodeGenerationFailed:   http.StatusBadGateway,
	domain.CodeGenerationTimeout:  http.StatusGatewayTimeout,
	domain.CodeUpstreamParse:      http.StatusBadGateway,
	domain.CodeInvalidPrompt:      http.StatusBadRequest,
	domain.CodeUnknownProvider:    http.StatusBadRequest,
	domain.CodeNotFound:           http.StatusNotFound,
	domain.CodeInternal:           http.StatusInternalServerError,
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps a pipeline error onto its HTTP status. Internal errors are logged
// and hidden from the caller.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		a.Logger.Debug().Str("path", r.URL.Path).Msg("http: client went away")
		return
	}
	code := domain.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: internal error")
		message = "internal error"
	}
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
