package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientData  = errors.New("insufficient market data for warm-up")
	ErrLayerInconclusive = errors.New("confirmation layer inconclusive")
	ErrExecutionRejected = errors.New("execution rejected")
	ErrExecutionPartial  = errors.New("execution partially filled")
	ErrRiskTripped       = errors.New("risk guardian rejected entry")
	ErrInvalidTransition = errors.New("invalid position transition")
	ErrPositionClosed    = errors.New("position already closed")
	ErrSignalExpired     = errors.New("signal expired")
	ErrBotExists         = errors.New("bot already registered")
	ErrBotNotFound       = errors.New("bot not registered")
	ErrLockHeld          = errors.New("lock already held")
)
