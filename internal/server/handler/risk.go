package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dkwok94/stratcore/internal/domain"
)

// RiskStateSource is the snapshot view for current risk state.
type RiskStateSource interface {
	GetRiskState(ctx context.Context, scope string) (domain.RiskState, error)
}

// RiskEventSource lists the guardian's audit trail.
type RiskEventSource interface {
	ListEvents(ctx context.Context, scope string, opts domain.ListOpts) ([]domain.RiskEvent, error)
}

// RiskHandler serves the guardian state and its recent events.
type RiskHandler struct {
	states RiskStateSource
	events RiskEventSource
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler. events may be nil, in which case the
// response omits the audit trail.
func NewRiskHandler(states RiskStateSource, events RiskEventSource, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		states: states,
		events: events,
		logger: logger.With(slog.String("handler", "risk")),
	}
}

// Get returns the risk state for a scope (default "account") plus recent
// guardian events. A scope with no state yet reports tripped=false rather
// than a 404; that is the pre-first-trade condition.
// GET /api/v1/risk?scope=account&limit=...
func (h *RiskHandler) Get(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "account"
	}

	state, err := h.states.GetRiskState(r.Context(), scope)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "get risk state failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read risk state")
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		state = domain.RiskState{Scope: scope}
	}

	body := map[string]any{
		"scope":    scope,
		"state":    state,
		"drawdown": state.Drawdown(),
	}

	if h.events != nil {
		events, err := h.events.ListEvents(r.Context(), scope, parseListOpts(r))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list risk events failed",
				slog.String("scope", scope),
				slog.String("error", err.Error()),
			)
		} else {
			if events == nil {
				events = []domain.RiskEvent{}
			}
			body["events"] = events
		}
	}

	writeJSON(w, http.StatusOK, body)
}
