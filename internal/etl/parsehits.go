package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
	"github.com/signalcove/pixelwatch/internal/store"
)

// rawHitRow is a single raw_hits row as read for parsing.
type rawHitRow struct {
	id                int64
	receivedAt        time.Time
	companyID         string
	pixelID           string
	ipAddress         string
	userAgent         string
	referer           string
	requestPath       string
	queryString       string
	headersJSON       []byte
	headersCompressed bool
}

// ParseNewHitsResult reports what one ParseNewHits cycle did, used by the
// scheduler for logging and by tests.
type ParseNewHitsResult struct {
	LastID  int64
	Parsed  int64
}

// ParseNewHits expands raw_hits rows in (lastID, maxID] into parsed_hits
// plus the Device/IP/Visit dimensions, one transaction per batch (§4.4).
func ParseNewHits(ctx context.Context, pool *pgxpool.Pool, batchSize int, logger *zap.Logger) (ParseNewHitsResult, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits begin: %w", err)
	}
	defer tx.Rollback(ctx)

	wm, err := ReadWatermark(ctx, tx, ProcessParseNewHits)
	if err != nil {
		return ParseNewHitsResult{}, err
	}

	var parsedMaxID *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(source_id) FROM parsed_hits`).Scan(&parsedMaxID); err != nil {
		return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits max(parsed_hits.source_id): %w", err)
	}
	if parsedMaxID != nil && *parsedMaxID > wm.LastProcessedID {
		if err := SelfHeal(ctx, tx, ProcessParseNewHits, *parsedMaxID); err != nil {
			return ParseNewHitsResult{}, err
		}
		wm.LastProcessedID = *parsedMaxID
	}

	var rawMaxID *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(id) FROM raw_hits`).Scan(&rawMaxID); err != nil {
		return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits max(raw_hits.id): %w", err)
	}
	if rawMaxID == nil {
		return ParseNewHitsResult{LastID: wm.LastProcessedID}, tx.Commit(ctx)
	}

	maxID := wm.LastProcessedID + int64(batchSize)
	if *rawMaxID < maxID {
		maxID = *rawMaxID
	}
	if maxID <= wm.LastProcessedID {
		return ParseNewHitsResult{LastID: wm.LastProcessedID}, tx.Commit(ctx)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, received_at, company_id, pixel_id, ip_address, user_agent,
			referer, request_path, query_string, headers_json, headers_compressed
		FROM raw_hits WHERE id > $1 AND id <= $2 ORDER BY id`, wm.LastProcessedID, maxID)
	if err != nil {
		return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits select raw_hits: %w", err)
	}

	var batch []rawHitRow
	for rows.Next() {
		var r rawHitRow
		if err := rows.Scan(&r.id, &r.receivedAt, &r.companyID, &r.pixelID, &r.ipAddress,
			&r.userAgent, &r.referer, &r.requestPath, &r.queryString, &r.headersJSON, &r.headersCompressed); err != nil {
			rows.Close()
			return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits scan raw_hits: %w", err)
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits iterate raw_hits: %w", err)
	}
	rows.Close()

	for _, r := range batch {
		if err := parseOneHit(ctx, tx, r, logger); err != nil {
			return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits row %d: %w", r.id, err)
		}
	}

	if err := Advance(ctx, tx, ProcessParseNewHits, maxID, int64(len(batch)), 0); err != nil {
		return ParseNewHitsResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ParseNewHitsResult{}, fmt.Errorf("etl: ParseNewHits commit: %w", err)
	}

	ObserveLag(ProcessParseNewHits, maxID, *rawMaxID)
	metrics.WatermarkRowsProcessedTotal.WithLabelValues(ProcessParseNewHits).Add(float64(len(batch)))
	return ParseNewHitsResult{LastID: maxID, Parsed: int64(len(batch))}, nil
}

// parseOneHit runs phases 1-13 of §4.4 for a single raw_hits row within tx.
func parseOneHit(ctx context.Context, tx pgx.Tx, r rawHitRow, logger *zap.Logger) error {
	qs := r.queryString
	lookupI := func(name string) *int64 {
		if v, ok := record.LookupInt(qs, name); ok {
			return &v
		}
		return nil
	}
	lookupF := func(name string) *float64 {
		if v, ok := record.LookupFloat(qs, name); ok {
			return &v
		}
		return nil
	}
	lookupB := func(name string) *bool {
		if v, ok := record.LookupBool(qs, name); ok {
			return &v
		}
		return nil
	}
	lookupS := func(name string) *string {
		if v, ok := record.LookupParam(qs, name); ok && v != "" {
			return &v
		}
		return nil
	}

	// Phase 1: INSERT with server/screen/locale fields.
	_, err := tx.Exec(ctx, `
		INSERT INTO parsed_hits (
			source_id, received_at, company_id, pixel_id,
			screen_width, screen_height, avail_width, avail_height,
			color_depth, pixel_depth, viewport_width, viewport_height,
			outer_width, outer_height, timezone, timezone_offset,
			language, languages, platform, vendor, cpu_cores,
			device_memory, touch_points, tier)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (source_id) DO NOTHING`,
		r.id, r.receivedAt, r.companyID, r.pixelID,
		lookupI("sw"), lookupI("sh"), lookupI("aw"), lookupI("ah"),
		lookupI("colorDepth"), lookupI("pixelDepth"), lookupI("vw"), lookupI("vh"),
		lookupI("ow"), lookupI("oh"), lookupS("tz"), lookupI("tzOffset"),
		lookupS("lang"), lookupS("langs"), lookupS("platform"), lookupS("vendor"), lookupI("cpuCores"),
		lookupF("deviceMemory"), lookupI("touchPoints"), lookupI("tier"))
	if err != nil {
		return fmt.Errorf("phase 1 insert: %w", err)
	}

	// Phase 2: browser/GPU/fingerprint.
	affluence, _ := record.LookupParam(qs, record.Srv("affluence"))
	gpuTier, _ := record.LookupParam(qs, record.Srv("gpuTier"))
	_, err = tx.Exec(ctx, `
		UPDATE parsed_hits SET
			browser = $2, browser_version = $3, os_name = $4, os_version = $5,
			device_type = $6, device_brand = $7, device_model = $8,
			canvas_fp = $9, webgl_fp = $10, audio_fp = $11, fonts = $12,
			gpu_renderer = $13, gpu_vendor = $14
		WHERE source_id = $1`,
		r.id, lookupS(record.Srv("browser")), lookupS(record.Srv("browserVer")),
		lookupS(record.Srv("os")), lookupS(record.Srv("osVer")),
		lookupS(record.Srv("deviceType")), lookupS(record.Srv("deviceBrand")), lookupS(record.Srv("deviceModel")),
		lookupS("canvasFP"), lookupS("webglFP"), lookupS("audioFP"), lookupS("fonts"),
		lookupS("gpuRenderer"), lookupS("gpuVendor"))
	if err != nil {
		return fmt.Errorf("phase 2 update: %w", err)
	}

	// Phase 3: mouse/input.
	_, err = tx.Exec(ctx, `
		UPDATE parsed_hits SET
			mouse_entropy = $2, move_timing_cv = $3, move_speed_cv = $4, mouse_path_len = $5
		WHERE source_id = $1`,
		r.id, lookupF("mouseEntropy"), lookupF("moveTimingCv"), lookupF("moveSpeedCv"), lookupI("mousePathLen"))
	if err != nil {
		return fmt.Errorf("phase 3 update: %w", err)
	}

	// Phase 4: connection/hardware.
	ipType, datacenter := connectionHardwareFields(qs)
	_, err = tx.Exec(ctx, `
		UPDATE parsed_hits SET affluence = $2, gpu_tier = $3, ip_type = $4, datacenter = $5
		WHERE source_id = $1`,
		r.id, nilIfEmpty(affluence), nilIfEmpty(gpuTier), nilIfEmpty(ipType), datacenter)
	if err != nil {
		return fmt.Errorf("phase 4 update: %w", err)
	}

	// Phase 5: bot/evasion.
	botName, _ := record.LookupParam(qs, record.Srv("botName"))
	contradictionList, _ := record.LookupParam(qs, record.Srv("contradictionList"))
	_, err = tx.Exec(ctx, `
		UPDATE parsed_hits SET
			bot_score = $2, bot_signals = $3, evasion_detected = $4, cross_signals = $5,
			known_bot = $6, bot_name = $7, contradictions = $8, contradiction_list = $9,
			lead_score = $10, replay_detected = $11
		WHERE source_id = $1`,
		r.id, lookupI("botScore"), lookupS("botSignals"), lookupB("evasionDetected"),
		lookupS(record.Srv("crossCustAlert")), lookupB(record.Srv("knownBot")), nilIfEmpty(botName),
		lookupI(record.Srv("contradictions")), nilIfEmpty(contradictionList),
		lookupI(record.Srv("leadScore")), lookupB(record.Srv("replayDetected")))
	if err != nil {
		return fmt.Errorf("phase 5 update: %w", err)
	}

	// Phase 6: referrer/UTM.
	_, err = tx.Exec(ctx, `
		UPDATE parsed_hits SET
			referer = $2, request_path = $3, utm_source = $4, utm_medium = $5, utm_campaign = $6
		WHERE source_id = $1`,
		r.id, nilIfEmpty(r.referer), nilIfEmpty(r.requestPath),
		lookupS("utmSource"), lookupS("utmMedium"), lookupS("utmCampaign"))
	if err != nil {
		return fmt.Errorf("phase 6 update: %w", err)
	}

	// Phase 7: WebRTC/accessibility.
	_, err = tx.Exec(ctx, `
		UPDATE parsed_hits SET webrtc_local_ip = $2, prefers_reduced_motion = $3
		WHERE source_id = $1`,
		r.id, lookupS("webrtcLocalIp"), lookupB("prefersReducedMotion"))
	if err != nil {
		return fmt.Errorf("phase 7 update: %w", err)
	}

	// Phase 8: media/performance + session stitching.
	_, err = tx.Exec(ctx, `
		UPDATE parsed_hits SET
			session_id = $2, session_hit_num = $3, session_duration_sec = $4, session_pages = $5
		WHERE source_id = $1`,
		r.id, lookupS(record.Srv("sessionId")), lookupI(record.Srv("sessionHitNum")),
		lookupI(record.Srv("sessionDurationSec")), lookupI(record.Srv("sessionPages")))
	if err != nil {
		return fmt.Errorf("phase 8 update: %w", err)
	}

	// Phase 9: DeviceHash.
	deviceHash := record.DeviceHash(qs)
	_, err = tx.Exec(ctx, `UPDATE parsed_hits SET device_hash = $2 WHERE source_id = $1`, r.id, deviceHash)
	if err != nil {
		return fmt.Errorf("phase 9 update: %w", err)
	}

	// Phase 10: upsert Device.
	var deviceAge *int
	if v, ok := record.LookupInt(qs, record.Srv("deviceAge")); ok {
		age := int(v)
		deviceAge = &age
	}
	if err := store.UpsertDevice(ctx, tx, deviceHash, r.receivedAt, affluence, gpuTier, deviceAge); err != nil {
		return fmt.Errorf("phase 10 upsert device: %w", err)
	}

	// Phase 11: upsert IP.
	geo := store.IPGeo{}
	if v, ok := record.LookupParam(qs, record.Srv("mmCC")); ok {
		geo.Country = v
	} else if v, ok := record.LookupParam(qs, record.Srv("ipapiCC")); ok {
		geo.Country = v
	}
	geo.IPType = ipType
	if datacenter != nil {
		geo.Datacenter = *datacenter
	}
	if v, ok := record.LookupParam(qs, record.Srv("mmReg")); ok {
		geo.Region = v
	}
	if v, ok := record.LookupParam(qs, record.Srv("mmCity")); ok {
		geo.City = v
	}
	if v, ok := record.LookupFloat(qs, record.Srv("mmLat")); ok {
		geo.Latitude = &v
	}
	if v, ok := record.LookupFloat(qs, record.Srv("mmLon")); ok {
		geo.Longitude = &v
	}
	if v, ok := record.LookupInt(qs, record.Srv("mmASN")); ok {
		geo.ASN = &v
	} else if v, ok := record.LookupInt(qs, record.Srv("whoisASN")); ok {
		geo.ASN = &v
	}
	if v, ok := record.LookupParam(qs, record.Srv("mmASNOrg")); ok {
		geo.ASNOrg = v
	} else if v, ok := record.LookupParam(qs, record.Srv("whoisOrg")); ok {
		geo.ASNOrg = v
	}
	if v, ok := record.LookupParam(qs, record.Srv("rdns")); ok {
		geo.RDNS = v
	}
	if v, ok := record.LookupBool(qs, record.Srv("rdnsCloud")); ok {
		geo.RDNSCloud = v
	}
	if r.ipAddress != "" {
		if err := store.UpsertIP(ctx, tx, r.ipAddress, r.receivedAt, geo); err != nil {
			return fmt.Errorf("phase 11 upsert ip: %w", err)
		}
	}

	// Phase 12: aggregate _cp_* custom params into JSON.
	var customParamsJSON []byte
	if cp := record.LookupCustomParams(qs); cp != nil {
		customParamsJSON, err = json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("phase 12 marshal custom params: %w", err)
		}
	}
	_, err = tx.Exec(ctx, `UPDATE parsed_hits SET custom_params = $2 WHERE source_id = $1`, r.id, customParamsJSON)
	if err != nil {
		return fmt.Errorf("phase 12 update: %w", err)
	}

	// Phase 13: INSERT Visit.
	matchEmail := lookupS("email")
	hitType := "standard"
	if matchEmail == nil {
		hitType = "legacy"
	}
	var ipRef, deviceRef any
	if r.ipAddress != "" {
		ipRef = r.ipAddress
	}
	deviceRef = deviceHash
	_, err = tx.Exec(ctx, `
		INSERT INTO visits (source_id, received_at, company_id, pixel_id, device_hash, ip_address, match_email, hit_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (source_id) DO NOTHING`,
		r.id, r.receivedAt, r.companyID, r.pixelID, deviceRef, ipRef, matchEmail, hitType)
	if err != nil {
		return fmt.Errorf("phase 13 insert visit: %w", err)
	}

	_ = logger
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// connectionHardwareFields reads the Edge fast-classifier tags for phase
// 4 (§4.1.1 steps 1-2): _srv_ipType (reserved-range classification) and
// _srv_datacenter (cloud/hosting-provider CIDR match). These are distinct
// from the Worker step-5 external geo-API fields (_srv_ipapiCC/ipapiProxy),
// which describe ISP-reported geography, not Edge's own IP classification.
func connectionHardwareFields(qs string) (ipType string, datacenter *bool) {
	ipType, _ = record.LookupParam(qs, record.Srv("ipType"))
	if v, ok := record.LookupBool(qs, record.Srv("datacenter")); ok {
		datacenter = &v
	}
	return ipType, datacenter
}
