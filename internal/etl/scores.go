package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ScoreResult reports how many visitor scores one MaterializeVisitorScores
// cycle computed.
type ScoreResult struct {
	LastID int64
	Scored int64
}

// MaterializeVisitorScores computes mouse authenticity, session quality,
// and composite quality for newly parsed visits and inserts one
// visitor_scores row per visit (§4.7).
func MaterializeVisitorScores(ctx context.Context, pool *pgxpool.Pool, batchSize int, logger *zap.Logger) (ScoreResult, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("etl: MaterializeScores begin: %w", err)
	}
	defer tx.Rollback(ctx)

	wm, err := ReadWatermark(ctx, tx, ProcessMaterializeScores)
	if err != nil {
		return ScoreResult{}, err
	}

	var scoredMaxID *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(visit_id) FROM visitor_scores`).Scan(&scoredMaxID); err != nil {
		return ScoreResult{}, fmt.Errorf("etl: MaterializeScores max(visitor_scores.visit_id): %w", err)
	}
	if scoredMaxID != nil && *scoredMaxID > wm.LastProcessedID {
		if err := SelfHeal(ctx, tx, ProcessMaterializeScores, *scoredMaxID); err != nil {
			return ScoreResult{}, err
		}
		wm.LastProcessedID = *scoredMaxID
	}

	var visitMaxID *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(visit_id) FROM visits`).Scan(&visitMaxID); err != nil {
		return ScoreResult{}, fmt.Errorf("etl: MaterializeScores max(visits.visit_id): %w", err)
	}
	if visitMaxID == nil {
		return ScoreResult{LastID: wm.LastProcessedID}, tx.Commit(ctx)
	}

	maxID := wm.LastProcessedID + int64(batchSize)
	if *visitMaxID < maxID {
		maxID = *visitMaxID
	}
	if maxID <= wm.LastProcessedID {
		return ScoreResult{LastID: wm.LastProcessedID}, tx.Commit(ctx)
	}

	rows, err := tx.Query(ctx, `
		SELECT v.visit_id, v.company_id, p.mouse_entropy, p.move_timing_cv, p.move_speed_cv,
			p.mouse_path_len, p.replay_detected, p.contradiction_list, p.session_pages,
			p.session_duration_sec, p.lead_score, p.bot_score, p.contradictions
		FROM visits v JOIN parsed_hits p ON p.source_id = v.source_id
		WHERE v.visit_id > $1 AND v.visit_id <= $2
		ORDER BY v.visit_id`, wm.LastProcessedID, maxID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("etl: MaterializeScores select: %w", err)
	}

	var scored int64
	for rows.Next() {
		var visitID int64
		var companyID string
		var mouseEntropy, timingCV, speedCV *float64
		var mouseCount *int64
		var replayDetected *bool
		var contradictionList *string
		var sessionPages, sessionDurationSec *int64
		var leadScore, botScore, contradictions *int64
		if err := rows.Scan(&visitID, &companyID, &mouseEntropy, &timingCV, &speedCV, &mouseCount,
			&replayDetected, &contradictionList, &sessionPages, &sessionDurationSec,
			&leadScore, &botScore, &contradictions); err != nil {
			rows.Close()
			return ScoreResult{}, fmt.Errorf("etl: MaterializeScores scan: %w", err)
		}

		mouseAuth := mouseAuthenticity(mouseEntropy, timingCV, speedCV, mouseCount, replayDetected, contradictionList)
		sessQuality := sessionQuality(sessionPages, sessionDurationSec)
		composite := compositeQuality(mouseAuth, sessQuality, leadScore, botScore, contradictions)

		_, err := tx.Exec(ctx, `
			INSERT INTO visitor_scores (visit_id, company_id, bot_score, anomaly_score, lead_score,
				mouse_authenticity, session_quality, composite_quality)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (visit_id) DO NOTHING`,
			visitID, companyID, botScore, contradictions, leadScore, mouseAuth, sessQuality, composite)
		if err != nil {
			rows.Close()
			return ScoreResult{}, fmt.Errorf("etl: MaterializeScores insert visit %d: %w", visitID, err)
		}
		scored++
	}
	if err := rows.Err(); err != nil {
		return ScoreResult{}, fmt.Errorf("etl: MaterializeScores iterate: %w", err)
	}
	rows.Close()

	if err := Advance(ctx, tx, ProcessMaterializeScores, maxID, scored, 0); err != nil {
		return ScoreResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ScoreResult{}, fmt.Errorf("etl: MaterializeScores commit: %w", err)
	}

	ObserveLag(ProcessMaterializeScores, maxID, *visitMaxID)
	_ = logger
	return ScoreResult{LastID: maxID, Scored: scored}, nil
}

// mouseAuthenticity implements the bucket sum in §4.7.
func mouseAuthenticity(entropy, timingCV, speedCV *float64, moveCount *int64, replayDetected *bool, contradictionList *string) int {
	score := 0
	switch {
	case entropy != nil && *entropy >= 70:
		score += 30
	case entropy != nil && *entropy >= 40:
		score += 20
	case entropy != nil && *entropy >= 20:
		score += 10
	default:
		score += 5
	}
	switch {
	case timingCV != nil && *timingCV > 0.5:
		score += 20
	case timingCV != nil && *timingCV > 0.3:
		score += 15
	case timingCV != nil && *timingCV > 0.1:
		score += 10
	}
	switch {
	case speedCV != nil && *speedCV > 0.5:
		score += 15
	case speedCV != nil && *speedCV > 0.3:
		score += 15
	case speedCV != nil && *speedCV > 0.1:
		score += 10
	}
	switch {
	case moveCount != nil && *moveCount >= 100:
		score += 15
	case moveCount != nil && *moveCount >= 50:
		score += 10
	default:
		score += 5
	}
	if replayDetected == nil || !*replayDetected {
		score += 10
	}
	if contradictionList == nil || !strings.Contains(*contradictionList, "scroll-no-depth") {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// sessionQuality is a function of page count and duration (§4.7): the
// representative parsed_hits schema does not carry a navigation-variety
// signal, so this scales on the two stored dimensions alone.
func sessionQuality(sessionPages, sessionDurationSec *int64) int {
	score := 0
	if sessionPages != nil {
		switch {
		case *sessionPages >= 5:
			score += 50
		case *sessionPages >= 2:
			score += 30
		default:
			score += 10
		}
	}
	if sessionDurationSec != nil {
		switch {
		case *sessionDurationSec >= 120:
			score += 50
		case *sessionDurationSec >= 30:
			score += 30
		default:
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// compositeQuality blends mouse authenticity, session quality, and lead
// score, discounted by normalized bot score and contradiction count
// (§4.7).
func compositeQuality(mouseAuth, sessQuality int, leadScore, botScore, contradictions *int64) int {
	lead := int64(0)
	if leadScore != nil {
		lead = *leadScore
	}
	blend := float64(mouseAuth)*0.35 + float64(sessQuality)*0.35 + float64(lead)*0.30

	if botScore != nil {
		blend -= float64(*botScore) * 0.3
	}
	if contradictions != nil {
		blend -= float64(*contradictions) * 5
	}
	if blend < 0 {
		blend = 0
	}
	if blend > 100 {
		blend = 100
	}
	return int(blend)
}

// CustomerSummaryResult reports the period a MaterializeCustomerSummary
// cycle rolled up.
type CustomerSummaryResult struct {
	PeriodType  string
	PeriodStart time.Time
	Companies   int
}

// MaterializeCustomerSummary aggregates total/bot/human/unknown hits,
// average scores, unique device/IP counts, matched-visitor count, and
// dead-internet index per (company, periodType, periodStart), via an
// insert-if-not-exists + update rather than MERGE (§4.7).
func MaterializeCustomerSummary(ctx context.Context, pool *pgxpool.Pool, periodType string, periodStart time.Time, logger *zap.Logger) (CustomerSummaryResult, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return CustomerSummaryResult{}, fmt.Errorf("etl: MaterializeCustomerSummary begin: %w", err)
	}
	defer tx.Rollback(ctx)

	periodEnd := periodEndFor(periodType, periodStart)

	rows, err := tx.Query(ctx, `
		SELECT v.company_id,
			count(*) AS total_hits,
			count(*) FILTER (WHERE p.known_bot) AS bot_hits,
			count(*) FILTER (WHERE NOT p.known_bot AND p.bot_score IS NOT NULL AND p.bot_score < 50) AS human_hits,
			count(*) FILTER (WHERE p.known_bot IS NULL) AS unknown_hits,
			avg(vs.mouse_authenticity) AS avg_mouse_authenticity,
			avg(vs.session_quality) AS avg_session_quality,
			avg(vs.composite_quality) AS avg_composite_quality,
			count(DISTINCT v.device_hash) AS unique_devices,
			count(DISTINCT v.ip_address) AS unique_ips,
			count(DISTINCT v.match_email) FILTER (WHERE v.match_email IS NOT NULL) AS matched_visitors,
			avg(CASE WHEN p.known_bot THEN 1.0 ELSE 0.0 END) AS dead_internet_index
		FROM visits v
		JOIN parsed_hits p ON p.source_id = v.source_id
		LEFT JOIN visitor_scores vs ON vs.visit_id = v.visit_id
		WHERE v.received_at >= $1 AND v.received_at < $2
		GROUP BY v.company_id`, periodStart, periodEnd)
	if err != nil {
		return CustomerSummaryResult{}, fmt.Errorf("etl: MaterializeCustomerSummary select: %w", err)
	}

	var companies int
	for rows.Next() {
		var companyID string
		var totalHits, botHits, humanHits, unknownHits, uniqueDevices, uniqueIPs, matchedVisitors int64
		var avgMouse, avgSession, avgComposite, deadInternetIdx *float64
		if err := rows.Scan(&companyID, &totalHits, &botHits, &humanHits, &unknownHits,
			&avgMouse, &avgSession, &avgComposite, &uniqueDevices, &uniqueIPs, &matchedVisitors, &deadInternetIdx); err != nil {
			rows.Close()
			return CustomerSummaryResult{}, fmt.Errorf("etl: MaterializeCustomerSummary scan: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE customer_summary SET
				total_hits = $4, bot_hits = $5, human_hits = $6, unknown_hits = $7,
				avg_mouse_authenticity = $8, avg_session_quality = $9, avg_composite_quality = $10,
				unique_devices = $11, unique_ips = $12, matched_visitors = $13,
				dead_internet_index = $14, updated_at = now()
			WHERE company_id = $1 AND period_type = $2 AND period_start = $3`,
			companyID, periodType, periodStart,
			totalHits, botHits, humanHits, unknownHits,
			avgMouse, avgSession, avgComposite, uniqueDevices, uniqueIPs, matchedVisitors, deadInternetIdx)
		if err != nil {
			rows.Close()
			return CustomerSummaryResult{}, fmt.Errorf("etl: MaterializeCustomerSummary update %s: %w", companyID, err)
		}
		if tag.RowsAffected() == 0 {
			_, err := tx.Exec(ctx, `
				INSERT INTO customer_summary (company_id, period_type, period_start,
					total_hits, bot_hits, human_hits, unknown_hits,
					avg_mouse_authenticity, avg_session_quality, avg_composite_quality,
					unique_devices, unique_ips, matched_visitors, dead_internet_index)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
				ON CONFLICT (company_id, period_type, period_start) DO NOTHING`,
				companyID, periodType, periodStart,
				totalHits, botHits, humanHits, unknownHits,
				avgMouse, avgSession, avgComposite, uniqueDevices, uniqueIPs, matchedVisitors, deadInternetIdx)
			if err != nil {
				rows.Close()
				return CustomerSummaryResult{}, fmt.Errorf("etl: MaterializeCustomerSummary insert %s: %w", companyID, err)
			}
		}
		companies++
	}
	if err := rows.Err(); err != nil {
		return CustomerSummaryResult{}, fmt.Errorf("etl: MaterializeCustomerSummary iterate: %w", err)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return CustomerSummaryResult{}, fmt.Errorf("etl: MaterializeCustomerSummary commit: %w", err)
	}

	_ = logger
	return CustomerSummaryResult{PeriodType: periodType, PeriodStart: periodStart, Companies: companies}, nil
}

func periodEndFor(periodType string, periodStart time.Time) time.Time {
	switch periodType {
	case "D":
		return periodStart.AddDate(0, 0, 1)
	case "W":
		return periodStart.AddDate(0, 0, 7)
	case "M":
		return periodStart.AddDate(0, 1, 0)
	default:
		return periodStart.AddDate(0, 0, 1)
	}
}
