package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"assetforge/internal/domain"
)

const (
	defaultArtifactLimit = 50
	maxArtifactLimit     = 500
)

func (a *App) Artifacts(w http.ResponseWriter, r *http.Request) {
	provider, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit := defaultArtifactLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxArtifactLimit)
	}
	items, err := a.Cache.List(r.Context(), provider, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.CachedArtifact{}
	}
	a.json(w, http.StatusOK, map[string]any{
		"provider": provider,
		"items":    items,
	})
}
