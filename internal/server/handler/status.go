package handler

import (
	"net/http"
	"time"
)

// FleetView is the registry surface the status endpoints read.
type FleetView interface {
	LiveCount() int
	Symbols() []string
}

// StatusHandler serves the process-level status snapshot.
type StatusHandler struct {
	mode      string
	version   string
	startedAt time.Time
	fleet     FleetView
	breaker   func() string // current execution breaker state
}

// NewStatusHandler creates a StatusHandler. breakerState may be nil when no
// breaker is wired (replay mode).
func NewStatusHandler(mode, version string, startedAt time.Time, fleet FleetView, breakerState func() string) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		version:   version,
		startedAt: startedAt,
		fleet:     fleet,
		breaker:   breakerState,
	}
}

// Get responds with mode, uptime, fleet liveness and breaker state.
// GET /api/v1/status
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"version":        h.version,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.fleet != nil {
		body["live_bots"] = h.fleet.LiveCount()
		body["symbols"] = h.fleet.Symbols()
	}
	if h.breaker != nil {
		body["breaker"] = h.breaker()
	}
	writeJSON(w, http.StatusOK, body)
}
