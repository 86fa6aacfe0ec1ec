package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// minFlushPeriod floors the idle flush ticker for very small holdbacks.
const minFlushPeriod = 250 * time.Millisecond

// Reorderer buffers events per symbol so downstream consumers observe
// timestamps in non-decreasing order. Each symbol carries a watermark at the
// newest timestamp seen minus the holdback window: buffered events at or
// before the watermark are released in order, arrivals behind it are dropped
// and counted. With a zero holdback the buffer degenerates to a pass-through
// that still enforces the watermark.
//
// The out callback runs on the pushing goroutine under the buffer lock, so
// release order is guaranteed; handlers must be quick and must not call back
// into the Reorderer.
type Reorderer struct {
	holdback time.Duration
	out      func(Event)
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	buffers map[string]*symbolBuffer
	dropped uint64
}

type symbolBuffer struct {
	pending   []Event
	maxSeen   time.Time
	watermark time.Time
	lastPush  time.Time
}

// NewReorderer creates a reorder buffer that releases events into out.
func NewReorderer(holdback time.Duration, out func(Event), logger *slog.Logger) *Reorderer {
	return &Reorderer{
		holdback: holdback,
		out:      out,
		logger:   logger.With(slog.String("component", "reorder")),
		now:      time.Now,
		buffers:  make(map[string]*symbolBuffer),
	}
}

// SetClock overrides the idle flush clock in tests.
func (r *Reorderer) SetClock(now func() time.Time) {
	r.now = now
}

// Push accepts one event and releases whatever the advancing watermark has
// made ready.
func (r *Reorderer) Push(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.buffers[ev.Symbol]
	if buf == nil {
		buf = &symbolBuffer{}
		r.buffers[ev.Symbol] = buf
	}
	buf.lastPush = r.now()

	if ev.Timestamp.Before(buf.watermark) {
		r.dropped++
		r.logger.Debug("late event dropped",
			slog.String("symbol", ev.Symbol),
			slog.String("kind", string(ev.Kind)),
			slog.Time("timestamp", ev.Timestamp),
			slog.Time("watermark", buf.watermark),
			slog.Uint64("dropped_total", r.dropped),
		)
		return
	}

	buf.insert(ev)
	if ev.Timestamp.After(buf.maxSeen) {
		buf.maxSeen = ev.Timestamp
	}
	for _, ready := range buf.advance(r.holdback) {
		r.out(ready)
	}
}

// FlushAll releases every buffered event in timestamp order and advances each
// watermark to the newest timestamp seen. Called on shutdown so the tail of
// the stream is not lost.
func (r *Reorderer) FlushAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sym := range r.symbolsLocked() {
		r.flushLocked(r.buffers[sym])
	}
}

// Dropped returns the total number of late events discarded.
func (r *Reorderer) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run flushes symbols that have gone quiet, so the tail of a burst is not
// held forever waiting for a newer arrival to advance the watermark. It
// flushes everything on shutdown.
func (r *Reorderer) Run(ctx context.Context) error {
	period := r.holdback
	if period < minFlushPeriod {
		period = minFlushPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.FlushAll()
			return ctx.Err()
		case <-ticker.C:
			r.flushIdle()
		}
	}
}

// flushIdle releases the pending tail of any symbol that has not seen an
// arrival for a full holdback window. Stragglers arriving after an idle
// flush count as late.
func (r *Reorderer) flushIdle() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sym := range r.symbolsLocked() {
		buf := r.buffers[sym]
		if len(buf.pending) == 0 {
			continue
		}
		if now.Sub(buf.lastPush) < r.holdback {
			continue
		}
		r.flushLocked(buf)
	}
}

func (r *Reorderer) flushLocked(buf *symbolBuffer) {
	if buf.maxSeen.After(buf.watermark) {
		buf.watermark = buf.maxSeen
	}
	for _, ev := range buf.pending {
		r.out(ev)
	}
	buf.pending = buf.pending[:0]
}

func (r *Reorderer) symbolsLocked() []string {
	syms := make([]string, 0, len(r.buffers))
	for sym := range r.buffers {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// insert keeps pending sorted by timestamp; equal timestamps keep arrival
// order.
func (b *symbolBuffer) insert(ev Event) {
	i := sort.Search(len(b.pending), func(i int) bool {
		return b.pending[i].Timestamp.After(ev.Timestamp)
	})
	b.pending = append(b.pending, Event{})
	copy(b.pending[i+1:], b.pending[i:])
	b.pending[i] = ev
}

// advance moves the watermark to maxSeen minus the holdback and returns the
// pending events at or before it, in order.
func (b *symbolBuffer) advance(holdback time.Duration) []Event {
	wm := b.maxSeen.Add(-holdback)
	if wm.After(b.watermark) {
		b.watermark = wm
	}

	n := 0
	for n < len(b.pending) && !b.pending[n].Timestamp.After(b.watermark) {
		n++
	}
	if n == 0 {
		return nil
	}
	ready := make([]Event, n)
	copy(ready, b.pending)
	rest := copy(b.pending, b.pending[n:])
	b.pending = b.pending[:rest]
	return ready
}
