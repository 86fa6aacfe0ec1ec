package domain

import "time"

// LayerResult is the outcome of one confirmation layer for one signal.
type LayerResult struct {
	Layer     string
	Passed    bool
	Weight    float64
	Score     float64 // [0,100] before weighting
	Rationale string
}

// ConfirmationResult is the full gate verdict for a signal, including the
// per-layer breakdown so rejections can be logged and replayed.
type ConfirmationResult struct {
	SignalID    string
	Symbol      string
	Strategy    string
	Layers      []LayerResult
	Score       float64 // weighted aggregate, normalized to [0,100]
	PassedCount int
	Required    int     // layers that had to pass
	MinScore    float64 // aggregate threshold in force
	Accepted    bool
	EvaluatedAt time.Time
}

// FailureReasons returns the rationales of every failed layer.
func (r ConfirmationResult) FailureReasons() []string {
	var reasons []string
	for _, l := range r.Layers {
		if !l.Passed {
			reasons = append(reasons, l.Layer+": "+l.Rationale)
		}
	}
	return reasons
}

// Layer returns the result for a named layer and whether it was evaluated.
func (r ConfirmationResult) Layer(name string) (LayerResult, bool) {
	for _, l := range r.Layers {
		if l.Layer == name {
			return l, true
		}
	}
	return LayerResult{}, false
}
