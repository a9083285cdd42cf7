// Package stream provides bounded, lazy chunked reading of byte sources.
//
// A [Reader] hands out chunk sequences over raw sources (HTTP response
// bodies, files) while enforcing two global bounds: a ceiling on concurrent
// streaming sessions and a per-session byte limit. Consumers range over the
// sequence; the reader owns the source and closes it when iteration ends
// for any reason, so a consumer that breaks early leaks nothing.
//
// All types are safe for concurrent use.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/voletro/cordon/internal/observe"
)

const defaultChunkSize = 64 << 10

// TruncatedError reports that a source held more data than the reader's
// byte limit. The bytes yielded before the limit stand; the sequence ends
// with this error instead of the overflowing data.
type TruncatedError struct {
	// Limit is the configured per-session byte cap.
	Limit int64

	// Read is the number of bytes delivered before truncation.
	Read int64
}

// Error implements the error interface.
func (e *TruncatedError) Error() string {
	return fmt.Sprintf("stream: source exceeds %d byte limit (%d bytes delivered)", e.Limit, e.Read)
}

// Option configures a [Reader].
type Option func(*Reader)

// WithMetrics sets the metrics instance session byte counts are recorded
// to. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reader) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// Reader produces bounded chunk sequences. One Reader is shared by every
// streaming consumer in the process; its semaphore is the global ceiling
// on concurrent streaming reads.
type Reader struct {
	sem       *semaphore.Weighted
	chunkSize int
	maxBytes  int64
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// NewReader builds a Reader admitting at most maxConcurrent simultaneous
// sessions, yielding chunkSize-byte chunks, and truncating sources larger
// than maxBytes. maxConcurrent below 1 is raised to 1; chunkSize below 1
// takes a 64 KiB default; maxBytes below 1 disables the byte limit.
func NewReader(maxConcurrent int64, chunkSize int, maxBytes int64, opts ...Option) *Reader {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}
	r := &Reader{
		sem:       semaphore.NewWeighted(maxConcurrent),
		chunkSize: chunkSize,
		maxBytes:  maxBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Read returns a lazy, finite, non-restartable chunk sequence over src.
//
// The session's semaphore slot is acquired when iteration starts,
// suspending the consumer while the reader is at its ceiling (FIFO).
// Every chunk is exactly chunkSize bytes except the final remainder. The
// yielded slice is only valid until the next iteration step — consumers
// that retain data must copy it.
//
// The sequence ends when the source is exhausted, the limit is exceeded
// (final yield is a [*TruncatedError]), the source fails, ctx ends, or
// the consumer breaks. On every one of those paths the semaphore slot is
// released and src is closed before control leaves the sequence. A
// sequence that is never ranged over touches nothing.
func (r *Reader) Read(ctx context.Context, src io.ReadCloser) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			// The reader owns src from the first iteration step on, even
			// when no slot was ever held.
			_ = src.Close()
			yield(nil, err)
			return
		}

		var total int64
		outcome := "complete"
		defer func() {
			r.sem.Release(1)
			if err := src.Close(); err != nil {
				r.logger.Debug("stream source close failed", "error", err)
			}
			r.metrics.RecordStreamBytes(ctx, total, outcome)
		}()

		// One buffer per session, reused across chunks.
		buf := make([]byte, r.chunkSize)
		for {
			if err := ctx.Err(); err != nil {
				outcome = "canceled"
				yield(nil, err)
				return
			}

			size := r.chunkSize
			if r.maxBytes > 0 {
				remaining := r.maxBytes - total
				if remaining == 0 {
					// Budget exhausted: distinguish a source of exactly
					// maxBytes from an overflowing one.
					var probe [1]byte
					n, err := io.ReadFull(src, probe[:])
					switch {
					case n > 0:
						outcome = "truncated"
						yield(nil, &TruncatedError{Limit: r.maxBytes, Read: total})
					case errors.Is(err, io.EOF):
					default:
						outcome = "error"
						yield(nil, fmt.Errorf("stream: read: %w", err))
					}
					return
				}
				if int64(size) > remaining {
					size = int(remaining)
				}
			}

			n, err := io.ReadFull(src, buf[:size])
			total += int64(n)
			if n > 0 {
				if !yield(buf[:n], nil) {
					outcome = "abandoned"
					return
				}
			}

			switch {
			case err == nil:
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				outcome = "error"
				yield(nil, fmt.Errorf("stream: read: %w", err))
				return
			}
		}
	}
}

// ReadAll collects the whole sequence into one slice. On truncation the
// bytes read up to the limit are returned together with the
// [*TruncatedError]; other errors likewise return the data delivered
// before the failure.
func (r *Reader) ReadAll(ctx context.Context, src io.ReadCloser) ([]byte, error) {
	var out []byte
	for chunk, err := range r.Read(ctx, src) {
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
