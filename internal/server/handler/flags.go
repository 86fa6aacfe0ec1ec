package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dkwok94/stratcore/internal/domain"
)

// FlagSource is the snapshot view for live manipulation flags.
type FlagSource interface {
	GetFlags(ctx context.Context, symbol string) ([]domain.ManipulationFlag, error)
}

// FlagsHandler serves the per-symbol manipulation flag projection.
type FlagsHandler struct {
	snapshots FlagSource
	logger    *slog.Logger
}

// NewFlagsHandler creates a FlagsHandler over the snapshot cache.
func NewFlagsHandler(snapshots FlagSource, logger *slog.Logger) *FlagsHandler {
	return &FlagsHandler{
		snapshots: snapshots,
		logger:    logger.With(slog.String("handler", "flags")),
	}
}

// Get returns the live flags for one symbol. No flags is the normal state
// and yields an empty list.
// GET /api/v1/flags?symbol=BTCUSDT
func (h *FlagsHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	flags, err := h.snapshots.GetFlags(r.Context(), symbol)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get flags failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read flags")
		return
	}
	if flags == nil {
		flags = []domain.ManipulationFlag{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"flags":  flags,
	})
}
