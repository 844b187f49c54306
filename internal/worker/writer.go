package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
	"github.com/signalcove/pixelwatch/internal/store"
)

// BulkWriter batches records off the writer channel and flushes them to
// raw_hits by size or time trigger, whichever comes first (§4.3.2).
type BulkWriter struct {
	raw           *store.RawWriter
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewBulkWriter(raw *store.RawWriter, batchSize int, flushInterval time.Duration, logger *zap.Logger) *BulkWriter {
	return &BulkWriter{
		raw:            raw,
		batchSize:      batchSize,
		flushInterval:  flushInterval,
		logger:         logger,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
}

// Run reads writerCh until it closes or ctx is canceled, accumulating a
// batch until batchSize or flushInterval is reached (teacher's
// ticker-plus-channel trigger from internal/history/pipeline.go). On
// shutdown it flushes whatever remains under a fresh timeout so the
// cancelled parent context doesn't kill the final write.
func (w *BulkWriter) Run(ctx context.Context, writerCh <-chan record.TrackingRecord) {
	var batch []record.TrackingRecord
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.flush(shutdownCtx, batch)
				cancel()
			}
			return

		case rec, ok := <-writerCh:
			if !ok {
				if len(batch) > 0 {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					w.flush(shutdownCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				batch = w.flush(ctx, batch)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				batch = w.flush(ctx, batch)
			}
		}
	}
}

// flush writes batch to raw_hits, retrying transient failures with
// exponential backoff (100ms initial, x2, cap 30s) indefinitely, and
// dropping the batch with an error log on a schema/permission error that
// retrying cannot fix (§4.3.2, §7). It always returns an empty batch: a
// batch is consumed exactly once, whether by success, by a schema-level
// drop, or by context cancellation mid-retry.
func (w *BulkWriter) flush(ctx context.Context, batch []record.TrackingRecord) []record.TrackingRecord {
	backoff := w.initialBackoff

	for {
		_, err := w.raw.FlushBatch(ctx, batch)
		if err == nil {
			return batch[:0]
		}

		if isFatalStoreError(err) {
			w.logger.Error("bulk write failed with a non-retryable store error, dropping batch",
				zap.Int("batch_size", len(batch)), zap.Error(err))
			return batch[:0]
		}

		metrics.BulkWriteRetriesTotal.WithLabelValues().Inc()
		w.logger.Warn("bulk write failed, retrying with backoff",
			zap.Int("batch_size", len(batch)), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			w.logger.Warn("bulk write abandoned on shutdown, records remain in spool", zap.Int("batch_size", len(batch)))
			return batch[:0]
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}
	}
}

// isFatalStoreError reports whether err is a schema/permission failure
// that retrying cannot resolve (§7 "Store schema/permission error: fatal
// for the ETL cycle"). pgx surfaces these as specific SQLSTATE classes;
// everything else (connection reset, deadlock, timeout) is treated as
// transient and retried.
func isFatalStoreError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42P01", // undefined_table
		"42703", // undefined_column
		"42501", // insufficient_privilege
		"28000", // invalid_authorization_specification
		"28P01": // invalid_password
		return true
	default:
		return false
	}
}
