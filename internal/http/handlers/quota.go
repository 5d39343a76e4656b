package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetforge/internal/domain"
)

type quotaResponse struct {
	Provider  string `json:"provider"`
	Date      string `json:"date"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

func (a *App) Quota(w http.ResponseWriter, r *http.Request) {
	provider, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	c := a.Ledger.Snapshot(string(provider))
	a.json(w, http.StatusOK, quotaResponse{
		Provider:  c.Provider,
		Date:      c.Date,
		Used:      c.Used,
		Limit:     c.Limit,
		Remaining: c.Remaining(),
	})
}
