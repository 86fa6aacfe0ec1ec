package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dkwok94/stratcore/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter using an S3-compatible backend.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a new Writer that uploads objects to the given client's
// configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads data as a single S3 PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	}

	_, err := w.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data using the S3 multipart upload manager, which
// splits the payload into parts and uploads them concurrently. Part sizes
// below the S3 minimum (5 MiB) are clamped to the minimum.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	input := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
		Body:   data,
	}

	_, err := uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)

// jsonlContentType is the media type for newline-delimited JSON objects.
const jsonlContentType = "application/x-ndjson"

// defaultFlushBytes triggers a size-based flush of the buffered writer.
const defaultFlushBytes = 4 * 1024 * 1024

// BufferedWriter accumulates JSONL lines in memory and uploads them as one
// object per flush. Appends past the size threshold flush inline; the
// pipeline's recorder job drives time-based flushes and the final flush on
// shutdown. Safe for concurrent use.
type BufferedWriter struct {
	writer     domain.BlobWriter
	keyFn      func(time.Time) string
	flushBytes int
	clock      func() time.Time

	mu    sync.Mutex
	buf   bytes.Buffer
	lines int
}

// NewBufferedWriter creates a BufferedWriter. keyFn maps a flush time to the
// object key. A non-positive flushBytes falls back to 4 MiB.
func NewBufferedWriter(w domain.BlobWriter, keyFn func(time.Time) string, flushBytes int) *BufferedWriter {
	if flushBytes <= 0 {
		flushBytes = defaultFlushBytes
	}
	return &BufferedWriter{
		writer:     w,
		keyFn:      keyFn,
		flushBytes: flushBytes,
		clock:      time.Now,
	}
}

// SetClock replaces the time source. Call before use; not synchronized.
func (b *BufferedWriter) SetClock(clock func() time.Time) {
	b.clock = clock
}

// Append marshals one record onto the buffer as a JSON line, flushing first
// the moment the buffer crosses the size threshold.
func (b *BufferedWriter) Append(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("s3blob: append marshal: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(data)
	b.buf.WriteByte('\n')
	b.lines++

	if b.buf.Len() >= b.flushBytes {
		return b.flushLocked(ctx)
	}
	return nil
}

// Flush uploads the buffered lines as one object and resets the buffer.
// Flushing an empty buffer is a no-op.
func (b *BufferedWriter) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// Len returns the number of buffered lines.
func (b *BufferedWriter) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines
}

func (b *BufferedWriter) flushLocked(ctx context.Context) error {
	if b.lines == 0 {
		return nil
	}

	path := b.keyFn(b.clock())
	if err := b.writer.Put(ctx, path, bytes.NewReader(b.buf.Bytes()), jsonlContentType); err != nil {
		return err
	}

	b.buf.Reset()
	b.lines = 0
	return nil
}
