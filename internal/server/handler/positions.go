package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dkwok94/stratcore/internal/domain"
)

// PositionSource is the snapshot view the positions endpoint reads.
type PositionSource interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
}

// PositionsHandler serves the open-position projection.
type PositionsHandler struct {
	snapshots PositionSource
	logger    *slog.Logger
}

// NewPositionsHandler creates a PositionsHandler over the snapshot cache.
func NewPositionsHandler(snapshots PositionSource, logger *slog.Logger) *PositionsHandler {
	return &PositionsHandler{
		snapshots: snapshots,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

// List returns currently open positions, optionally filtered by bot or
// symbol.
// GET /api/v1/positions?bot=...&symbol=...
func (h *PositionsHandler) List(w http.ResponseWriter, r *http.Request) {
	positions, err := h.snapshots.ListPositions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	bot := r.URL.Query().Get("bot")
	symbol := r.URL.Query().Get("symbol")
	filtered := positions[:0]
	for _, p := range positions {
		if bot != "" && p.BotID != bot {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		filtered = append(filtered, p)
	}
	if filtered == nil {
		filtered = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": filtered})
}
