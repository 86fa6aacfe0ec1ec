package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dkwok94/stratcore/internal/domain"
)

// OpportunitySource lists recent basis scan results.
type OpportunitySource interface {
	ListRecent(ctx context.Context, limit int) ([]domain.BasisOpportunity, error)
}

// OpportunitiesHandler serves the latest basis scan output.
type OpportunitiesHandler struct {
	scans  OpportunitySource
	logger *slog.Logger
}

// NewOpportunitiesHandler creates an OpportunitiesHandler over the scan
// store.
func NewOpportunitiesHandler(scans OpportunitySource, logger *slog.Logger) *OpportunitiesHandler {
	return &OpportunitiesHandler{
		scans:  scans,
		logger: logger.With(slog.String("handler", "opportunities")),
	}
}

// List returns recent basis opportunities, newest first.
// GET /api/v1/opportunities?limit=...
func (h *OpportunitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	opps, err := h.scans.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.BasisOpportunity{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps})
}
