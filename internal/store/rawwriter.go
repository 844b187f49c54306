// Package store holds the Postgres-facing writers shared by Worker and ETL:
// the bulk raw_hits writer and the dimension upsert helpers the ETL batch
// processes use to materialize Device/IP rows.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
)

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("store: zstd encoder init: %v", err))
	}
}

// RawWriter bulk-inserts enriched TrackingRecords into raw_hits. It is the
// only writer the Worker's bulk-write loop uses, and it also implements
// edge.DirectInserter so Edge can fall back to a synchronous single-row
// insert when IPC and the spool are both unavailable.
type RawWriter struct {
	pool            *pgxpool.Pool
	logger          *zap.Logger
	compressHeaders bool
}

func NewRawWriter(pool *pgxpool.Pool, logger *zap.Logger, compressHeaders bool) *RawWriter {
	return &RawWriter{
		pool:            pool,
		logger:          logger,
		compressHeaders: compressHeaders,
	}
}

const insertRawSQL = `
	INSERT INTO raw_hits
		(received_at, company_id, pixel_id, ip_address, user_agent, referer,
		 request_path, headers_json, headers_compressed, query_string)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT DO NOTHING`

// InsertRaw performs a single-row synchronous insert. It implements
// edge.DirectInserter, used only on Edge's last-resort durability tier.
func (w *RawWriter) InsertRaw(ctx context.Context, rec record.TrackingRecord) error {
	headers, compressed := w.encodeHeaders(rec.HeadersJson)
	_, err := w.pool.Exec(ctx, insertRawSQL,
		rec.ReceivedAt, rec.CompanyID, rec.PixelID, rec.IPAddress, rec.UserAgent,
		rec.Referer, rec.RequestPath, headers, compressed, rec.QueryString)
	return err
}

// FlushBatch bulk-inserts rows via pgx.Batch/SendBatch, the same pattern
// used for every high-volume table in this repo: one transaction, one
// batch, dedup-conflict counting off RowsAffected() (§4.2 at-least-once
// delivery means duplicates on replay are expected, not exceptional).
func (w *RawWriter) FlushBatch(ctx context.Context, rows []record.TrackingRecord) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range rows {
		headers, compressed := w.encodeHeaders(rec.HeadersJson)
		batch.Queue(insertRawSQL,
			rec.ReceivedAt, rec.CompanyID, rec.PixelID, rec.IPAddress, rec.UserAgent,
			rec.Referer, rec.RequestPath, headers, compressed, rec.QueryString)
	}

	results := tx.SendBatch(ctx, batch)
	var inserted int64
	for i := range rows {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("store: insert raw_hits[%d]: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("store: closing batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.BulkWriteDuration.WithLabelValues().Observe(dur)
	metrics.BulkWriteBatchSize.WithLabelValues().Observe(float64(len(rows)))

	return inserted, nil
}

// encodeHeaders optionally zstd-compresses the carrier's raw headers JSON,
// returning the bytes to store and whether they are compressed. Compression
// is an operator-configured tradeoff (CPU for TOAST footprint); the
// headers_compressed column records which encoding each row used.
func (w *RawWriter) encodeHeaders(headersJson string) ([]byte, bool) {
	if headersJson == "" {
		return nil, false
	}
	if !w.compressHeaders {
		return []byte(headersJson), false
	}
	return zstdEncoder.EncodeAll([]byte(headersJson), nil), true
}

// DecodeHeaders reverses encodeHeaders for a headers_json value read back
// out of raw_hits. ParseNewHits reads the column but does not decode it.
func DecodeHeaders(data []byte, compressed bool) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if !compressed {
		return string(data), nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return "", fmt.Errorf("store: zstd decoder init: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("store: zstd decode: %w", err)
	}
	return string(out), nil
}

// Ready reports the RawWriter as healthy as long as its pool can be pinged.
// It takes a context, so it does not satisfy the admin mux's ReadinessCheck
// interface directly; cmd/pixelwatch wraps it in an adapter.
func (w *RawWriter) Name() string { return "raw_writer" }

func (w *RawWriter) Ready(ctx context.Context) error {
	return w.pool.Ping(ctx)
}
