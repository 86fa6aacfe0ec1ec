package handler

import (
	"net/http"

	"github.com/dkwok94/stratcore/internal/engine"
)

// BotLister is the registry surface the bots endpoint reads.
type BotLister interface {
	List() []engine.BotStatus
}

// BotsHandler serves the fleet listing.
type BotsHandler struct {
	fleet BotLister
}

// NewBotsHandler creates a BotsHandler over the given registry view.
func NewBotsHandler(fleet BotLister) *BotsHandler {
	return &BotsHandler{fleet: fleet}
}

// List returns the status of every registered bot.
// GET /api/v1/bots
func (h *BotsHandler) List(w http.ResponseWriter, r *http.Request) {
	bots := h.fleet.List()
	if bots == nil {
		bots = []engine.BotStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
}
