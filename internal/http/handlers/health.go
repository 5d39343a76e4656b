package handlers

import (
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	inFlight := 0
	if a.Orchestrator != nil {
		inFlight = a.Orchestrator.InFlight()
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"in_flight": inFlight,
		"uptime":    time.Since(a.StartedAt).Round(time.Second).String(),
	})
}
