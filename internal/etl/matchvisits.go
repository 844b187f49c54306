package etl

import (
	"context"
	"fmt"
	"strings"

	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/metrics"
)

// MatchResult reports what one MatchVisits or MatchLegacyVisits cycle did.
type MatchResult struct {
	LastID  int64
	Matched int64
}

// candidateGroup is a deduplicated group of source rows sharing one
// (CompanyID, PixelID, MatchKey) tuple, aggregated per §4.5 step 5's
// mandatory source deduplication.
type candidateGroup struct {
	companyID      string
	pixelID        string
	matchKey       string
	deviceHash     string
	ip             string
	firstVisitID   int64
	latestVisitID  int64
	firstSeen      time.Time
	lastSeen       time.Time
	hitCount       int64
	individualKey  *string
	addressKey     *string
}

// MatchVisits resolves Visit rows with a non-null MatchEmail against the
// external consumer table by email, upserting Match rows (§4.5).
func MatchVisits(ctx context.Context, pool *pgxpool.Pool, batchSize int, logger *zap.Logger) (MatchResult, error) {
	return runMatch(ctx, pool, matchRunConfig{
		process:   ProcessMatchVisits,
		matchType: "email",
		batchSize: batchSize,
		selectCandidatesSQL: `
			SELECT v.visit_id, v.company_id, v.pixel_id, v.received_at,
				lower(trim(v.match_email)) AS key, v.device_hash, v.ip_address
			FROM visits v
			LEFT JOIN pixel_config pc ON pc.company_id = v.company_id AND pc.pixel_id = v.pixel_id
			WHERE v.visit_id > $1 AND v.visit_id <= $2
				AND v.match_email IS NOT NULL
				AND length(v.match_email) > 5
				AND v.match_email LIKE '_%@_%.__%'
				AND COALESCE(pc.match_email, true)
			ORDER BY v.visit_id`,
		resolveKeysSQL: `
			SELECT DISTINCT ON (email) email, individual_key, address_key
			FROM consumers WHERE email = ANY($1) ORDER BY email, record_id DESC`,
	}, logger)
}

// MatchLegacyVisits is the IP-resolution variant of MatchVisits for rows
// with no email, gated by the MatchIP pixel config flag (§4.6).
func MatchLegacyVisits(ctx context.Context, pool *pgxpool.Pool, batchSize int, logger *zap.Logger) (MatchResult, error) {
	return runMatch(ctx, pool, matchRunConfig{
		process:   ProcessMatchLegacyVisits,
		matchType: "ip",
		batchSize: batchSize,
		selectCandidatesSQL: `
			SELECT v.visit_id, v.company_id, v.pixel_id, v.received_at,
				v.ip_address AS key, v.device_hash, v.ip_address
			FROM visits v
			LEFT JOIN pixel_config pc ON pc.company_id = v.company_id AND pc.pixel_id = v.pixel_id
			WHERE v.visit_id > $1 AND v.visit_id <= $2
				AND v.hit_type = 'legacy'
				AND v.match_email IS NULL
				AND v.ip_address IS NOT NULL
				AND COALESCE(pc.match_ip, true)
			ORDER BY v.visit_id`,
		// Two-phase lookup (§4.6): phase A resolves distinct keys to a
		// consumer record id, phase B (same query here, pgx makes the
		// round trip identical either way) resolves the keys directly.
		resolveKeysSQL: `
			SELECT DISTINCT ON (ip_address) ip_address AS email, individual_key, address_key
			FROM consumers WHERE ip_address = ANY($1) ORDER BY ip_address, record_id DESC`,
	}, logger)
}

type matchRunConfig struct {
	process             string
	matchType           string
	batchSize           int
	selectCandidatesSQL string
	resolveKeysSQL      string
}

func runMatch(ctx context.Context, pool *pgxpool.Pool, cfg matchRunConfig, logger *zap.Logger) (MatchResult, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return MatchResult{}, fmt.Errorf("etl: %s begin: %w", cfg.process, err)
	}
	defer tx.Rollback(ctx)

	wm, err := ReadWatermark(ctx, tx, cfg.process)
	if err != nil {
		return MatchResult{}, err
	}

	var matchMaxVisitID *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(latest_visit_id) FROM matches WHERE match_type = $1`, cfg.matchType).Scan(&matchMaxVisitID); err != nil {
		return MatchResult{}, fmt.Errorf("etl: %s max(matches.latest_visit_id): %w", cfg.process, err)
	}
	if matchMaxVisitID != nil && *matchMaxVisitID > wm.LastProcessedID {
		if err := SelfHeal(ctx, tx, cfg.process, *matchMaxVisitID); err != nil {
			return MatchResult{}, err
		}
		wm.LastProcessedID = *matchMaxVisitID
	}

	var visitMaxID *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(visit_id) FROM visits`).Scan(&visitMaxID); err != nil {
		return MatchResult{}, fmt.Errorf("etl: %s max(visits.visit_id): %w", cfg.process, err)
	}
	if visitMaxID == nil {
		return MatchResult{LastID: wm.LastProcessedID}, tx.Commit(ctx)
	}

	maxID := wm.LastProcessedID + int64(cfg.batchSize)
	if *visitMaxID < maxID {
		maxID = *visitMaxID
	}
	if maxID <= wm.LastProcessedID {
		return MatchResult{LastID: wm.LastProcessedID}, tx.Commit(ctx)
	}

	rows, err := tx.Query(ctx, cfg.selectCandidatesSQL, wm.LastProcessedID, maxID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("etl: %s select candidates: %w", cfg.process, err)
	}

	groups := map[string]*candidateGroup{}
	var keys []string
	for rows.Next() {
		var visitID int64
		var companyID, pixelID, key string
		var receivedAt time.Time
		var deviceHash, ip *string
		if err := rows.Scan(&visitID, &companyID, &pixelID, &receivedAt, &key, &deviceHash, &ip); err != nil {
			rows.Close()
			return MatchResult{}, fmt.Errorf("etl: %s scan candidate: %w", cfg.process, err)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		groupKey := companyID + "\x00" + pixelID + "\x00" + key
		g, ok := groups[groupKey]
		if !ok {
			g = &candidateGroup{companyID: companyID, pixelID: pixelID, matchKey: key,
				firstVisitID: visitID, latestVisitID: visitID, firstSeen: receivedAt, lastSeen: receivedAt}
			groups[groupKey] = g
			keys = append(keys, key)
		}
		g.hitCount++
		if visitID < g.firstVisitID {
			g.firstVisitID = visitID
			g.firstSeen = receivedAt
		}
		if visitID > g.latestVisitID {
			g.latestVisitID = visitID
			g.lastSeen = receivedAt
		}
		if deviceHash != nil {
			g.deviceHash = *deviceHash
		}
		if ip != nil {
			g.ip = *ip
		}
	}
	if err := rows.Err(); err != nil {
		return MatchResult{}, fmt.Errorf("etl: %s iterate candidates: %w", cfg.process, err)
	}
	rows.Close()

	if len(keys) > 0 {
		resolveRows, err := tx.Query(ctx, cfg.resolveKeysSQL, keys)
		if err != nil {
			return MatchResult{}, fmt.Errorf("etl: %s resolve keys: %w", cfg.process, err)
		}
		for resolveRows.Next() {
			var key string
			var individualKey, addressKey *string
			if err := resolveRows.Scan(&key, &individualKey, &addressKey); err != nil {
				resolveRows.Close()
				return MatchResult{}, fmt.Errorf("etl: %s scan resolved key: %w", cfg.process, err)
			}
			for _, g := range groups {
				if g.matchKey == key {
					g.individualKey = individualKey
					g.addressKey = addressKey
				}
			}
		}
		if err := resolveRows.Err(); err != nil {
			return MatchResult{}, fmt.Errorf("etl: %s iterate resolved keys: %w", cfg.process, err)
		}
		resolveRows.Close()
	}

	var matched int64
	for _, g := range groups {
		if err := upsertMatch(ctx, tx, cfg.matchType, g); err != nil {
			return MatchResult{}, fmt.Errorf("etl: %s upsert match: %w", cfg.process, err)
		}
		matched++
	}

	if err := Advance(ctx, tx, cfg.process, maxID, int64(len(groups)), matched); err != nil {
		return MatchResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return MatchResult{}, fmt.Errorf("etl: %s commit: %w", cfg.process, err)
	}

	ObserveLag(cfg.process, maxID, *visitMaxID)
	metrics.MatchUpsertsTotal.WithLabelValues(cfg.matchType).Add(float64(matched))
	_ = logger
	return MatchResult{LastID: maxID, Matched: matched}, nil
}

// upsertMatch implements §4.5 step 5 / §4.6's analogous upsert: sticky
// IndividualKey/AddressKey via COALESCE, MatchedAt set once on the NULL ->
// resolved transition.
func upsertMatch(ctx context.Context, tx pgx.Tx, matchType string, g *candidateGroup) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO matches (company_id, pixel_id, match_type, match_key,
			first_visit_id, latest_visit_id, first_seen, last_seen, hit_count,
			individual_key, address_key, matched_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,
			CASE WHEN $10 IS NOT NULL THEN now() ELSE NULL END)
		ON CONFLICT (company_id, pixel_id, match_type, match_key) DO UPDATE SET
			latest_visit_id = $6,
			last_seen = $8,
			hit_count = matches.hit_count + $9,
			individual_key = COALESCE(matches.individual_key, EXCLUDED.individual_key),
			address_key = COALESCE(matches.address_key, EXCLUDED.address_key),
			matched_at = CASE
				WHEN matches.matched_at IS NULL AND EXCLUDED.individual_key IS NOT NULL THEN now()
				ELSE matches.matched_at
			END`,
		g.companyID, g.pixelID, matchType, g.matchKey,
		g.firstVisitID, g.latestVisitID, g.firstSeen, g.lastSeen, g.hitCount,
		g.individualKey, g.addressKey)
	return err
}
