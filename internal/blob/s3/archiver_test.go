package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/domain"
)

// fakeBlob records every Put in memory.
type fakeBlob struct {
	mu        sync.Mutex
	objs      map[string][]byte
	keys      []string
	multipart []string
	err       error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objs: make(map[string][]byte)}
}

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objs[path] = b
	f.keys = append(f.keys, path)
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	if err := f.Put(ctx, path, data, jsonlContentType); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multipart = append(f.multipart, path)
	return nil
}

// fakePositionSource mimics the store's closed-position drain queries over
// an in-memory slice sorted by close time.
type fakePositionSource struct {
	rows    []domain.Position
	deletes []time.Time
}

func (f *fakePositionSource) ListClosedBefore(_ context.Context, before time.Time, limit int) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.rows {
		if p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakePositionSource) DeleteClosedBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletes = append(f.deletes, before)
	var kept []domain.Position
	var n int64
	for _, p := range f.rows {
		if p.ClosedAt != nil && p.ClosedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, p)
	}
	f.rows = kept
	return n, nil
}

type fakeSignalSource struct {
	rows    []domain.Signal
	deletes []time.Time
}

func (f *fakeSignalSource) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, s := range f.rows {
		if s.CreatedAt.Before(before) {
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeSignalSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletes = append(f.deletes, before)
	var kept []domain.Signal
	var n int64
	for _, s := range f.rows {
		if s.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	f.rows = kept
	return n, nil
}

type fakeScanSource struct {
	rows []domain.BasisOpportunity
}

func (f *fakeScanSource) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.BasisOpportunity, error) {
	var out []domain.BasisOpportunity
	for _, s := range f.rows {
		if s.ScannedAt.Before(before) {
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeScanSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.BasisOpportunity
	var n int64
	for _, s := range f.rows {
		if s.ScannedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	f.rows = kept
	return n, nil
}

func closedPosition(id string, closedAt time.Time) domain.Position {
	return domain.Position{
		ID:        id,
		BotID:     "bot-1",
		Symbol:    "BTCUSDT",
		Direction: domain.DirectionLong,
		Strategy:  "hft",
		Status:    domain.PositionClosed,
		ClosedAt:  &closedAt,
	}
}

func TestArchiveKeyLayout(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "positions/2024/03/01/1709294400000.jsonl", ArchiveKey("positions", ts))

	// Non-UTC timestamps partition by their UTC day.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2024, 2, 29, 23, 30, 0, 0, est)
	assert.True(t, strings.HasPrefix(ArchiveKey("signals", late), "signals/2024/03/01/"))
}

func TestArchivePositionsDrainsInBatches(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &fakePositionSource{}
	for i := 0; i < 7; i++ {
		src.rows = append(src.rows, closedPosition(
			"pos-"+string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Minute),
		))
	}

	blob := newFakeBlob()
	arch := NewArchiver(blob, src, nil, nil, discardLogger())
	arch.batchSize = 3

	total, err := arch.ArchivePositions(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)

	// 7 records at batch size 3 means three uploads and an empty store.
	require.Len(t, blob.keys, 3)
	assert.Empty(t, src.rows)

	var lines int
	for _, key := range blob.keys {
		assert.True(t, strings.HasPrefix(key, "positions/2024/03/01/"), key)
		lines += bytes.Count(blob.objs[key], []byte("\n"))
	}
	assert.Equal(t, 7, lines)

	// Each delete edge sits one nanosecond past its batch's newest record.
	require.Len(t, src.deletes, 3)
	assert.Equal(t, base.Add(2*time.Minute).Add(time.Nanosecond), src.deletes[0])
	assert.Equal(t, base.Add(5*time.Minute).Add(time.Nanosecond), src.deletes[1])
	assert.Equal(t, base.Add(6*time.Minute).Add(time.Nanosecond), src.deletes[2])
}

func TestArchiveOversizedBatchUsesMultipart(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &fakePositionSource{rows: []domain.Position{closedPosition("pos-big", base)}}

	blob := newFakeBlob()
	arch := NewArchiver(blob, src, nil, nil, discardLogger())
	arch.multipartBytes = 16 // far below one serialized position

	total, err := arch.ArchivePositions(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, blob.keys, 1)
	assert.Equal(t, blob.keys, blob.multipart, "payload past the threshold must take the multipart path")
}

func TestArchivePositionsEmptyStore(t *testing.T) {
	blob := newFakeBlob()
	arch := NewArchiver(blob, &fakePositionSource{}, nil, nil, discardLogger())

	total, err := arch.ArchivePositions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, blob.keys)
}

func TestArchiverNilSourcesDisabled(t *testing.T) {
	blob := newFakeBlob()
	arch := NewArchiver(blob, nil, nil, nil, discardLogger())
	cutoff := time.Now()

	for _, fn := range []func(context.Context, time.Time) (int64, error){
		arch.ArchivePositions, arch.ArchiveSignals, arch.ArchiveScans,
	} {
		total, err := fn(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Zero(t, total)
	}
	assert.Empty(t, blob.keys)
}

func TestArchiveSignalsRoundTrip(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSignalSource{rows: []domain.Signal{
		{ID: "sig-1", Symbol: "BTCUSDT", Direction: domain.DirectionLong, Strategy: "hft", Entry: 50000, CreatedAt: base},
		{ID: "sig-2", Symbol: "ETHUSDT", Direction: domain.DirectionShort, Strategy: "swing", Entry: 3000, CreatedAt: base.Add(time.Minute)},
	}}

	blob := newFakeBlob()
	arch := NewArchiver(blob, nil, src, nil, discardLogger())

	total, err := arch.ArchiveSignals(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Empty(t, src.rows)
	require.Len(t, blob.keys, 1)

	var got []domain.Signal
	err = DecodeJSONL(bytes.NewReader(blob.objs[blob.keys[0]]), func(s domain.Signal) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sig-1", got[0].ID)
	assert.Equal(t, domain.DirectionShort, got[1].Direction)
	assert.True(t, got[1].CreatedAt.Equal(base.Add(time.Minute)))
}

func TestArchiveScansRespectsCutoff(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeScanSource{rows: []domain.BasisOpportunity{
		{SpotSymbol: "BTCUSDT", FuturesSymbol: "BTCUSDT-PERP", Type: domain.BasisCashAndCarry, ScannedAt: base},
		{SpotSymbol: "ETHUSDT", FuturesSymbol: "ETHUSDT-PERP", Type: domain.BasisCashAndCarry, ScannedAt: base.Add(2 * time.Hour)},
	}}

	blob := newFakeBlob()
	arch := NewArchiver(blob, nil, nil, src, discardLogger())

	total, err := arch.ArchiveScans(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// The scan past the cutoff stays put.
	require.Len(t, src.rows, 1)
	assert.Equal(t, "ETHUSDT", src.rows[0].SpotSymbol)
}

func TestArchiveUploadFailureLeavesRows(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSignalSource{rows: []domain.Signal{
		{ID: "sig-1", Symbol: "BTCUSDT", CreatedAt: base},
	}}

	blob := newFakeBlob()
	blob.err = errors.New("bucket unavailable")
	arch := NewArchiver(blob, nil, src, nil, discardLogger())

	total, err := arch.ArchiveSignals(context.Background(), base.Add(time.Hour))
	require.Error(t, err)
	assert.Zero(t, total)

	// Nothing was deleted, so the next run retries the same rows.
	assert.Len(t, src.rows, 1)
	assert.Empty(t, src.deletes)
}

func TestDecodeJSONL(t *testing.T) {
	input := "{\"id\":\"a\"}\n\n{\"id\":\"b\"}\n"

	var ids []string
	err := DecodeJSONL(strings.NewReader(input), func(v struct {
		ID string `json:"id"`
	}) error {
		ids = append(ids, v.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDecodeJSONLStopsOnCallbackError(t *testing.T) {
	stop := errors.New("enough")
	input := "{\"id\":\"a\"}\n{\"id\":\"b\"}\n"

	var seen int
	err := DecodeJSONL(strings.NewReader(input), func(struct {
		ID string `json:"id"`
	}) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestDecodeJSONLReportsBadLine(t *testing.T) {
	input := "{\"id\":\"a\"}\nnot json\n"

	err := DecodeJSONL(strings.NewReader(input), func(struct{}) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
