// Package metrics exposes the core's operational counters through a
// Prometheus registry. Every instance owns its own registry so tests can
// construct registries freely without collector name collisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the core records into. Construct with New
// and serve Handler() from the status server.
type Metrics struct {
	reg *prometheus.Registry

	SignalsGenerated *prometheus.CounterVec
	SignalsAccepted  *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec

	OrdersPlaced prometheus.Counter
	OrdersFailed prometheus.Counter

	OpenPositions prometheus.Gauge
	RealizedPnL   prometheus.Gauge

	BreakerState prometheus.Gauge
	FeedLag      prometheus.Histogram
}

// New creates a Metrics with all collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		SignalsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratcore_signals_generated_total",
				Help: "Candidate signals produced by the generators",
			},
			[]string{"strategy"},
		),
		SignalsAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratcore_signals_accepted_total",
				Help: "Signals accepted by the confirmation gate",
			},
			[]string{"strategy"},
		),
		SignalsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratcore_signals_rejected_total",
				Help: "Signals rejected by the confirmation gate",
			},
			[]string{"strategy"},
		),

		OrdersPlaced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stratcore_orders_placed_total",
				Help: "Orders that reached the venue and came back filled",
			},
		),
		OrdersFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stratcore_orders_failed_total",
				Help: "Orders that errored or were rejected by the venue",
			},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stratcore_open_positions",
				Help: "Live positions across all bots",
			},
		),
		RealizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stratcore_realized_pnl_quote",
				Help: "Cumulative realized PnL in quote currency, net of fees and funding",
			},
		),

		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stratcore_execution_breaker_state",
				Help: "Transport circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		FeedLag: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stratcore_feed_lag_seconds",
				Help:    "Delay between event time and local processing time",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
	}

	m.reg.MustRegister(
		m.SignalsGenerated,
		m.SignalsAccepted,
		m.SignalsRejected,
		m.OrdersPlaced,
		m.OrdersFailed,
		m.OpenPositions,
		m.RealizedPnL,
		m.BreakerState,
		m.FeedLag,
	)
	return m
}

// Handler serves this registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SignalGenerated counts a candidate signal from the named strategy.
func (m *Metrics) SignalGenerated(strategy string) {
	m.SignalsGenerated.WithLabelValues(strategy).Inc()
}

// SignalAccepted counts a gate acceptance for the named strategy.
func (m *Metrics) SignalAccepted(strategy string) {
	m.SignalsAccepted.WithLabelValues(strategy).Inc()
}

// SignalRejected counts a gate rejection for the named strategy.
func (m *Metrics) SignalRejected(strategy string) {
	m.SignalsRejected.WithLabelValues(strategy).Inc()
}

// OrderPlaced counts a filled order.
func (m *Metrics) OrderPlaced() { m.OrdersPlaced.Inc() }

// OrderFailed counts an order that errored or was rejected.
func (m *Metrics) OrderFailed() { m.OrdersFailed.Inc() }

// SetOpenPositions records the number of live positions.
func (m *Metrics) SetOpenPositions(n int) {
	m.OpenPositions.Set(float64(n))
}

// AddRealizedPnL accumulates realized PnL from a closed position.
func (m *Metrics) AddRealizedPnL(v float64) {
	m.RealizedPnL.Add(v)
}

// SetBreakerState records the execution breaker state by name.
func (m *Metrics) SetBreakerState(state string) {
	m.BreakerState.Set(breakerStateValue(state))
}

// ObserveFeedLag records one event's ingest delay.
func (m *Metrics) ObserveFeedLag(d time.Duration) {
	m.FeedLag.Observe(d.Seconds())
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
