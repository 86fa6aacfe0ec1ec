package domain

import "time"

// FlagKind classifies a manipulation flag.
type FlagKind string

const (
	FlagPump FlagKind = "pump"
	FlagDump FlagKind = "dump"
)

// ManipulationFlag marks a symbol as showing pump/dump characteristics.
// Active flags veto new entries through both the confirmation gate and the
// risk guardian until they expire.
type ManipulationFlag struct {
	Symbol     string
	Kind       FlagKind
	Severity   float64 // [0,1]
	Rationale  string
	DetectedAt time.Time
	ExpiresAt  time.Time
}

// Active reports whether the flag is still in force at the given time.
func (f ManipulationFlag) Active(now time.Time) bool {
	return now.Before(f.ExpiresAt)
}
