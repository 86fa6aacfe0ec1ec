package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// OrderStats receives order outcomes and breaker state changes. Satisfied
// by the metrics registry.
type OrderStats interface {
	OrderPlaced()
	OrderFailed()
	SetBreakerState(state string)
}

// Breaker wraps an ExecutionAdapter behind a transport circuit breaker.
// Consecutive transport errors open the circuit; while open, calls fail fast
// with ErrExecutionRejected instead of hammering a dead venue. Venue
// rejections (Success=false, nil error) are valid responses and never count
// as failures. This is distinct from the risk circuit breaker, which guards
// the account rather than the transport.
type Breaker struct {
	inner  domain.ExecutionAdapter
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
	stats  OrderStats
}

// NewBreaker wraps inner, opening after failures consecutive transport
// errors and probing again after cooldown.
func NewBreaker(inner domain.ExecutionAdapter, failures int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if failures <= 0 {
		failures = defaultBreakerFailures
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	log := logger.With(slog.String("component", "exec_breaker"))

	b := &Breaker{inner: inner, logger: log}
	settings := gobreaker.Settings{
		Name:    "execution",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		// A caller hanging up is not a venue failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("execution breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if b.stats != nil {
				b.stats.SetBreakerState(to.String())
			}
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// SetStats attaches an order outcome sink. Call before serving traffic.
func (b *Breaker) SetStats(stats OrderStats) {
	b.stats = stats
}

// PlaceOrder forwards through the circuit.
func (b *Breaker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		res, err := b.inner.PlaceOrder(ctx, req)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		if b.stats != nil {
			b.stats.OrderFailed()
		}
		return domain.OrderResult{}, b.wrap(err)
	}
	res := out.(domain.OrderResult)
	if b.stats != nil {
		if res.Success {
			b.stats.OrderPlaced()
		} else {
			b.stats.OrderFailed()
		}
	}
	return res, nil
}

// CancelOrder forwards through the same circuit as placement.
func (b *Breaker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.CancelOrder(ctx, symbol, clientOrderID)
	})
	if err != nil {
		return b.wrap(err)
	}
	return nil
}

// State exposes the circuit state for the metrics gauge.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("exec: transport breaker open: %w", domain.ErrExecutionRejected)
	}
	return err
}
