package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports static runtime facts for dashboards.
type StatusHandler struct {
	Mode        string
	ChainID     int64
	Marketplace string
	StartedAt   time.Time
	Active      func() int
}

// GetStatus responds with the mode, chain and orchestrator count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	active := 0
	if h.Active != nil {
		active = h.Active()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":                 h.Mode,
		"chain_id":             h.ChainID,
		"marketplace_address":  h.Marketplace,
		"uptime_seconds":       int64(time.Since(h.StartedAt).Seconds()),
		"active_orchestrators": active,
	})
}
