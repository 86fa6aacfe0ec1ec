package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
)

// defaultArchiveBatch bounds how many records one upload carries.
const defaultArchiveBatch = 500

// defaultMultipartBytes is the serialized batch size past which uploads
// switch to the concurrent multipart path. Batches this large come from
// positions with long fill histories.
const defaultMultipartBytes = 8 * 1024 * 1024

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these through their time-ranged queries.

// PositionArchiveSource provides the closed-position drain queries.
type PositionArchiveSource interface {
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Position, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SignalArchiveSource provides the signal drain queries.
type SignalArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Signal, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ScanArchiveSource provides the basis scan drain queries.
type ScanArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.BasisOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver: it drains aged records from the
// primary store to JSONL objects in batches, deleting each batch only after
// its upload succeeded. A failed run leaves rows in place, so a retry may
// duplicate archive lines but never loses records.
type Archiver struct {
	writer         domain.BlobWriter
	positions      PositionArchiveSource
	signals        SignalArchiveSource
	scans          ScanArchiveSource
	logger         *slog.Logger
	batchSize      int
	multipartBytes int
}

// NewArchiver creates an Archiver. Any nil source disables that kind.
func NewArchiver(
	writer domain.BlobWriter,
	positions PositionArchiveSource,
	signals SignalArchiveSource,
	scans ScanArchiveSource,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:         writer,
		positions:      positions,
		signals:        signals,
		scans:          scans,
		logger:         logger.With(slog.String("component", "archiver")),
		batchSize:      defaultArchiveBatch,
		multipartBytes: defaultMultipartBytes,
	}
}

// ArchivePositions drains terminal positions closed before the cutoff and
// returns how many were archived.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	if a.positions == nil {
		return 0, nil
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := a.positions.ListClosedBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive positions query: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		// The delete edge sits just past the last uploaded row.
		edge := before
		if last := batch[len(batch)-1]; last.ClosedAt != nil {
			edge = *last.ClosedAt
		}

		if err := uploadBatch(ctx, a.writer, "positions", edge, batch, a.multipartBytes); err != nil {
			return total, fmt.Errorf("s3blob: archive positions upload: %w", err)
		}
		if _, err := a.positions.DeleteClosedBefore(ctx, edge.Add(time.Nanosecond)); err != nil {
			return total, fmt.Errorf("s3blob: archive positions delete: %w", err)
		}

		total += int64(len(batch))
		if len(batch) < a.batchSize {
			break
		}
	}

	a.logDrained("positions", total)
	return total, nil
}

// ArchiveSignals drains signals created before the cutoff and returns how
// many were archived.
func (a *Archiver) ArchiveSignals(ctx context.Context, before time.Time) (int64, error) {
	if a.signals == nil {
		return 0, nil
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := a.signals.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive signals query: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		edge := batch[len(batch)-1].CreatedAt
		if err := uploadBatch(ctx, a.writer, "signals", edge, batch, a.multipartBytes); err != nil {
			return total, fmt.Errorf("s3blob: archive signals upload: %w", err)
		}
		if _, err := a.signals.DeleteBefore(ctx, edge.Add(time.Nanosecond)); err != nil {
			return total, fmt.Errorf("s3blob: archive signals delete: %w", err)
		}

		total += int64(len(batch))
		if len(batch) < a.batchSize {
			break
		}
	}

	a.logDrained("signals", total)
	return total, nil
}

// ArchiveScans drains basis scans recorded before the cutoff and returns how
// many were archived.
func (a *Archiver) ArchiveScans(ctx context.Context, before time.Time) (int64, error) {
	if a.scans == nil {
		return 0, nil
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := a.scans.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive scans query: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		edge := batch[len(batch)-1].ScannedAt
		if err := uploadBatch(ctx, a.writer, "scans", edge, batch, a.multipartBytes); err != nil {
			return total, fmt.Errorf("s3blob: archive scans upload: %w", err)
		}
		if _, err := a.scans.DeleteBefore(ctx, edge.Add(time.Nanosecond)); err != nil {
			return total, fmt.Errorf("s3blob: archive scans delete: %w", err)
		}

		total += int64(len(batch))
		if len(batch) < a.batchSize {
			break
		}
	}

	a.logDrained("scans", total)
	return total, nil
}

func (a *Archiver) logDrained(kind string, total int64) {
	if total == 0 {
		return
	}
	a.logger.Info("archive drained",
		slog.String("kind", kind),
		slog.Int64("records", total))
}

// uploadBatch serialises one batch to JSONL and writes it under the kind's
// day-partitioned prefix. Payloads past the multipart threshold go through
// the concurrent multipart path.
func uploadBatch[T any](ctx context.Context, w domain.BlobWriter, kind string, ts time.Time, records []T, multipartBytes int) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return err
	}
	key := ArchiveKey(kind, ts)
	if multipartBytes > 0 && len(buf) >= multipartBytes {
		return w.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	}
	return w.Put(ctx, key, bytes.NewReader(buf), jsonlContentType)
}

// ArchiveKey builds the object key for one archive batch, partitioned by the
// UTC day of its newest record:
//
//	positions/2024/03/01/1709294400000.jsonl
func ArchiveKey(kind string, ts time.Time) string {
	ts = ts.UTC()
	return kind + "/" + ts.Format("2006/01/02") + "/" + strconv.FormatInt(ts.UnixMilli(), 10) + ".jsonl"
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes one compact line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
