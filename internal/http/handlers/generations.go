package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"assetforge/internal/domain"
	"assetforge/internal/middleware"
)

type generationRequest struct {
	Prompt   string         `json:"prompt"`
	Provider string         `json:"provider"`
	Options  map[string]any `json:"options"`
}

type generationResponse struct {
	CanonicalKey string                 `json:"canonical_key"`
	Source       domain.OutcomeSource   `json:"source"`
	Artifact     *domain.CachedArtifact `json:"artifact"`
	RequestID    string                 `json:"request_id,omitempty"`
}

// GenerationsCreate blocks until the artifact is available, a cached or joined
// result included.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidPrompt, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidPrompt, "prompt is required")
		return
	}
	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	requestID := middleware.RequestIDFromContext(r.Context())
	started := time.Now()
	out, err := a.Orchestrator.Generate(r.Context(), domain.GenerationRequest{
		RawPrompt: req.Prompt,
		Provider:  provider,
		Options:   req.Options,
	})
	if err != nil {
		a.Logger.Warn().
			Err(err).
			Str("request_id", requestID).
			Str("provider", string(provider)).
			Str("code", domain.CodeOf(err)).
			Msg("http: generation failed")
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().
		Str("request_id", requestID).
		Str("provider", string(provider)).
		Str("canonical_key", out.CanonicalKey).
		Str("source", string(out.Source)).
		Dur("elapsed", time.Since(started)).
		Msg("http: generation served")

	status := http.StatusOK
	if out.Source == domain.SourceGenerated {
		status = http.StatusCreated
	}
	a.json(w, status, generationResponse{
		CanonicalKey: out.CanonicalKey,
		Source:       out.Source,
		Artifact:     out.Artifact,
		RequestID:    requestID,
	})
}
