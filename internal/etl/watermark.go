// Package etl implements the watermark-driven batch pipeline: ParseNewHits
// expands raw_hits into parsed_hits plus the Device/IP/Visit dimensions,
// MatchVisits/MatchLegacyVisits resolve identity against the external
// consumer table, and MaterializeVisitorScores/MaterializeCustomerSummary
// compute per-visit and per-customer rollups (§3.5, §4.4-§4.7).
package etl

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signalcove/pixelwatch/internal/metrics"
)

// Process names, shared verbatim between the watermarks table rows and the
// metrics label values so a dashboard query and a SQL query agree.
const (
	ProcessParseNewHits       = "ParseNewHits"
	ProcessMatchVisits        = "MatchVisits"
	ProcessMatchLegacyVisits  = "MatchLegacyVisits"
	ProcessMaterializeScores  = "MaterializeScores"
)

// Watermark is the single-row per-process progress marker (§3.5).
type Watermark struct {
	ProcessName     string
	LastProcessedID int64
	RowsProcessed   int64
	RowsMatched     int64
}

// ReadWatermark reads the current watermark row for process, within tx so
// it is serialized against concurrent advances by row lock (§5 "Watermark
// rows: single-row updates within the ETL transaction; serialized by row
// lock").
func ReadWatermark(ctx context.Context, tx pgx.Tx, process string) (Watermark, error) {
	var w Watermark
	w.ProcessName = process
	err := tx.QueryRow(ctx, `
		SELECT last_processed_id, rows_processed, rows_matched
		FROM watermarks WHERE process_name = $1 FOR UPDATE`, process,
	).Scan(&w.LastProcessedID, &w.RowsProcessed, &w.RowsMatched)
	if err != nil {
		return Watermark{}, fmt.Errorf("etl: reading watermark %s: %w", process, err)
	}
	return w, nil
}

// Advance sets the watermark to newLastID and accumulates the rows
// processed/matched counters, regardless of whether the batch produced any
// output (§3.5: "advances to the batch's high-water mark whether or not
// rows produced output — prevents re-scanning ineligible rows").
func Advance(ctx context.Context, tx pgx.Tx, process string, newLastID, rowsProcessed, rowsMatched int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE watermarks SET
			last_processed_id = $2,
			last_run_at = now(),
			rows_processed = rows_processed + $3,
			rows_matched = rows_matched + $4
		WHERE process_name = $1`,
		process, newLastID, rowsProcessed, rowsMatched)
	if err != nil {
		return fmt.Errorf("etl: advancing watermark %s: %w", process, err)
	}
	return nil
}

// SelfHeal advances the stored watermark to targetMaxID when a downstream
// table already contains rows past it — evidence that a prior commit's
// watermark update failed after the data commit succeeded (§3.5 "Self-
// healing"). It never moves the watermark backward.
func SelfHeal(ctx context.Context, tx pgx.Tx, process string, targetMaxID int64) error {
	if targetMaxID <= 0 {
		return nil
	}
	tag, err := tx.Exec(ctx, `
		UPDATE watermarks SET last_processed_id = $2
		WHERE process_name = $1 AND last_processed_id < $2`,
		process, targetMaxID)
	if err != nil {
		return fmt.Errorf("etl: self-healing watermark %s: %w", process, err)
	}
	if tag.RowsAffected() > 0 {
		metrics.WatermarkRowsProcessedTotal.WithLabelValues(process).Add(0) // touch label set
	}
	return nil
}

// MaxID returns the maximum id in table, or 0 if the table is empty. The
// batch procedures in this package run their own MAX queries inside their
// transaction rather than calling it.
func MaxID(ctx context.Context, pool *pgxpool.Pool, table, idColumn string) (int64, error) {
	var max *int64
	err := pool.QueryRow(ctx, fmt.Sprintf(`SELECT MAX(%s) FROM %s`, pgx.Identifier{idColumn}.Sanitize(), pgx.Identifier{table}.Sanitize())).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("etl: max(%s) in %s: %w", idColumn, table, err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

// ObserveLag publishes the watermark_lag gauge for process, given the
// upstream table's current max id.
func ObserveLag(process string, lastProcessedID, upstreamMaxID int64) {
	metrics.WatermarkLag.WithLabelValues(process).Set(float64(upstreamMaxID - lastProcessedID))
}
