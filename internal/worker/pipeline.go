// Package worker implements the enrichment+bulk-write process behind
// Edge: a listener that feeds IPC and spool-replayed records into a
// bounded enrichment channel, a single-consumer pipeline running the
// 15-step enrichment sequence (§4.3.1), and a bulk writer batching
// enriched records into raw_hits (§4.3.2).
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/enrich"
	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
)

// Pipeline holds every stateful enrichment step and applies all 15 in
// order to a single record (§4.3, §4.3.1). It has exactly one consumer:
// concurrency comes from pipelining across records, not within one.
type Pipeline struct {
	geoDB        *enrich.GeoDB
	resolver     enrich.Resolver
	geoAPI       *enrich.GeoAPIClient
	geoCache     *geoIPCache
	whoisServer  string
	session      *enrich.SessionTracker
	crossCust    *enrich.CrossCustomerTracker
	replay       *enrich.ReplayTracker
	deadInternet *enrich.DeadInternetTracker
	deadInternetRetention time.Duration
	logger       *zap.Logger
}

// PipelineConfig bundles the dependencies Pipeline needs to construct its
// stateful trackers and I/O clients.
type PipelineConfig struct {
	GeoDB           *enrich.GeoDB
	Resolver        enrich.Resolver
	GeoAPI          *enrich.GeoAPIClient
	GeoCacheMaxMem  int
	WhoisServer     string
	ReplayRetention time.Duration
	Logger          *zap.Logger
}

// deadInternetRetention bounds the per-customer running-aggregate map
// swept by Pipeline.Sweep; unlike replay retention (§9 open question,
// configurable) this window only affects memory, not correctness, so a
// fixed generous value is sufficient.
const deadInternetRetention = 24 * time.Hour

func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		geoDB:                 cfg.GeoDB,
		resolver:              cfg.Resolver,
		geoAPI:                cfg.GeoAPI,
		geoCache:              newGeoIPCache(cfg.GeoCacheMaxMem),
		whoisServer:           cfg.WhoisServer,
		session:               enrich.NewSessionTracker(),
		crossCust:             enrich.NewCrossCustomerTracker(),
		replay:                enrich.NewReplayTracker(cfg.ReplayRetention),
		deadInternet:          enrich.NewDeadInternetTracker(),
		deadInternetRetention: deadInternetRetention,
		logger:                cfg.Logger,
	}
}

// Enrich runs the 15 steps in order against rec, returning the
// fully-enriched record. No step's failure aborts the record (§4.3's
// per-record error policy); a panicking step is recovered and simply
// contributes no _srv_* fields.
func (p *Pipeline) Enrich(ctx context.Context, rec record.TrackingRecord) record.TrackingRecord {
	now := time.Now()
	fingerprint, _ := record.LookupParam(rec.QueryString, "canvasFP")
	deviceHash := record.DeviceHash(rec.QueryString)

	rec = p.step("known_bot", rec, enrich.KnownBot)
	rec = p.step("ua_parse", rec, enrich.UAParse)

	rec = p.step("rdns", rec, func(r record.TrackingRecord) record.TrackingRecord {
		return enrich.RDNS(ctx, p.resolver, r)
	})

	rec = p.step("geo_local", rec, func(r record.TrackingRecord) record.TrackingRecord {
		return p.geoDB.GeoLocal(r)
	})
	if _, ok := record.LookupParam(rec.QueryString, record.Srv("mmCC")); ok && rec.IPAddress != "" {
		p.geoCache.Mark(rec.IPAddress)
	}

	rec = p.step("geo_api", rec, func(r record.TrackingRecord) record.TrackingRecord {
		return p.geoAPI.GeoAPI(ctx, p.geoCache, r)
	})
	if _, ok := record.LookupParam(rec.QueryString, record.Srv("ipapiCC")); ok && rec.IPAddress != "" {
		p.geoCache.Mark(rec.IPAddress)
	}

	if !enrich.HasASN(rec) {
		rec = p.step("whois_asn", rec, func(r record.TrackingRecord) record.TrackingRecord {
			return enrich.WhoisASN(ctx, p.whoisServer, r)
		})
	}

	rec = p.step("session", rec, func(r record.TrackingRecord) record.TrackingRecord {
		return p.session.Session(r, deviceHash, now)
	})

	rec = p.step("cross_customer", rec, func(r record.TrackingRecord) record.TrackingRecord {
		return p.crossCust.CrossCustomer(r, r.IPAddress, fingerprint, now)
	})

	rec = p.step("affluence", rec, enrich.Affluence)
	rec = p.step("contradiction", rec, enrich.Contradiction)
	rec = p.step("cultural", rec, enrich.Cultural)
	rec = p.step("device_age", rec, enrich.DeviceAge)

	rec = p.step("replay", rec, func(r record.TrackingRecord) record.TrackingRecord {
		return p.replay.Replay(r, fingerprint, now)
	})

	rec = p.step("dead_internet", rec, func(r record.TrackingRecord) record.TrackingRecord {
		return p.deadInternet.DeadInternet(r, now)
	})

	rec = p.step("lead_score", rec, enrich.LeadScore)

	return rec
}

// step wraps a single enrichment step with timing, error-swallowing and
// metrics, so neither a returned error (none of these steps have one) nor
// a panic can take down the pipeline for the whole record (§7 "per-record
// enrichment failure").
func (p *Pipeline) step(name string, rec record.TrackingRecord, fn func(record.TrackingRecord) record.TrackingRecord) (out record.TrackingRecord) {
	out = rec
	start := time.Now()
	defer func() {
		metrics.EnrichmentStepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			metrics.EnrichmentStepErrorsTotal.WithLabelValues(name).Inc()
			p.logger.Warn("enrichment step failed, record continues without its output",
				zap.String("step", name), zap.Any("panic", r))
			out = rec
		}
	}()
	return fn(rec)
}

// Sweep prunes every stateful tracker's expired entries. Called
// periodically by the Worker process, outside the hot enrichment path.
func (p *Pipeline) Sweep(now time.Time) {
	p.session.Sweep(now)
	p.crossCust.Sweep(now)
	p.replay.Sweep(now)
	p.deadInternet.Sweep(now, p.deadInternetRetention)
}
