// Package edge implements the HTTP receiver and fast in-memory classifier
// that sits directly in the pixel request path (§4.1). It validates the
// request, tags the record with fast-enricher results, hands it off via
// Forward, and always answers with the pre-allocated transparent GIF —
// never failing the response because of anything downstream.
package edge

import (
	"context"
	"encoding/base64"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/metrics"
	"github.com/signalcove/pixelwatch/internal/record"
)

// transparentGIF is the 43-byte 1x1 transparent GIF every ServePixel call
// returns, regardless of what happened downstream.
var transparentGIF = mustDecodeGIF("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAICTAEAOw==")

func mustDecodeGIF(b64 string) []byte {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		panic(err)
	}
	return b
}

var companyPixelSegment = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// pixelPath matches /{company}/{pixel}_SMART.GIF, case-insensitive on the
// _SMART.GIF suffix.
var pixelPath = regexp.MustCompile(`(?i)^/([A-Za-z0-9_-]{1,64})/([A-Za-z0-9_-]{1,64})_SMART\.GIF$`)

// Collector serves the browser-side collector script content.
type Collector interface {
	Script(company, pixel string) []byte
}

// Server is the Edge HTTP surface: the pixel endpoint, the collector
// script endpoint, and a local health endpoint reporting queue depth.
type Server struct {
	fingerprints *FingerprintTracker
	velocity     *VelocityTracker
	datacenters  *DatacenterSet
	forwarder    *Forwarder
	collector    Collector
	logger       *zap.Logger

	queueDepth func() int
}

// NewServer wires the fast-classifier state together with the forwarder.
// queueDepth reports the current enrichment channel backlog for /health;
// it may be nil if no such signal is wired (queueDepth reports 0).
func NewServer(forwarder *Forwarder, datacenters *DatacenterSet, collector Collector, queueDepth func() int, logger *zap.Logger) *Server {
	if queueDepth == nil {
		queueDepth = func() int { return 0 }
	}
	return &Server{
		fingerprints: NewFingerprintTracker(),
		velocity:     NewVelocityTracker(),
		datacenters:  datacenters,
		forwarder:    forwarder,
		collector:    collector,
		logger:       logger,
		queueDepth:   queueDepth,
	}
}

// Handler returns the mux serving the Edge HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/js/", s.handleScript)
	mux.HandleFunc("/", s.handlePixel)
	return withSecurityHeaders(mux)
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		next.ServeHTTP(w, r)
	})
}

// handlePixel implements ServePixel (§4.1): validate path, build the
// record, run fast enrichers, hand off via Forward, always answer with
// the transparent GIF.
func (s *Server) handlePixel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.EdgeRequestDuration.WithLabelValues("pixel").Observe(time.Since(start).Seconds())
	}()

	m := pixelPath.FindStringSubmatch(r.URL.Path)
	if m == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	companyID, pixelID := m[1], m[2]

	rec := record.TrackingRecord{
		ReceivedAt:  time.Now().UTC(),
		CompanyID:   companyID,
		PixelID:     pixelID,
		UserAgent:   r.UserAgent(),
		Referer:     r.Referer(),
		RequestPath: r.URL.Path,
		QueryString: r.URL.RawQuery,
	}
	rec.HeadersJson = record.TruncateHeader(encodeHeaders(r.Header))

	rec = s.runFastEnrichers(rec, r)

	// Forward runs detached from the request context: the client must never
	// wait on it, and it must keep running even after the handler returns.
	go func() {
		if err := s.forwarder.Forward(context.Background(), rec); err != nil {
			s.logger.Error("forward failed on all durability tiers, record dropped", zap.Error(err),
				zap.String("company_id", companyID), zap.String("pixel_id", pixelID))
		}
	}()

	w.Header().Set("Accept-CH", "Sec-CH-UA-Platform-Version, Sec-CH-UA-Model, Sec-CH-UA-Full-Version-List")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Type", "image/gif")
	w.WriteHeader(http.StatusOK)
	w.Write(transparentGIF)
}

// runFastEnrichers applies §4.1.1 steps 1-5 synchronously in the request
// path and appends their results as _srv_ query params.
func (s *Server) runFastEnrichers(rec record.TrackingRecord, r *http.Request) record.TrackingRecord {
	ip := ClientIP(r)
	now := time.Now()

	step := func(name string, fn func()) {
		t0 := time.Now()
		fn()
		metrics.FastEnricherDuration.WithLabelValues(name).Observe(time.Since(t0).Seconds())
	}

	step("ip_classify", func() {
		ipType := ClassifyIP(ip)
		rec = rec.AppendEnrichment(record.Srv("ipType"), string(ipType))
		rec = rec.AppendEnrichment(record.Srv("skipGeo"), boolString(SkipGeo(ipType)))
	})

	step("datacenter", func() {
		isDC := s.datacenters != nil && s.datacenters.Contains(ip)
		rec = rec.AppendEnrichment(record.Srv("datacenter"), boolString(isDC))
	})

	step("fingerprint", func() {
		fp, _ := record.LookupParam(rec.QueryString, "canvasFP")
		if fp != "" {
			count, alert := s.fingerprints.Observe(ip, fp, now)
			rec = rec.AppendEnrichment(record.Srv("fpCount"), itoa(count))
			if alert {
				rec = rec.AppendEnrichment(record.Srv("fpAlert"), "1")
			}
		}
	})

	step("velocity", func() {
		flags := s.velocity.Observe(ip, now)
		if flags.RapidFire {
			rec = rec.AppendEnrichment(record.Srv("rapidFire"), "1")
		}
		if flags.SubSecondDupe {
			rec = rec.AppendEnrichment(record.Srv("subSecDupe"), "1")
		}
		if flags.SubnetBurst {
			rec = rec.AppendEnrichment(record.Srv("subnetAlert"), "1")
		}
	})

	rec.IPAddress = ip
	return rec
}

// handleScript implements ServeScript (§4.1): /js/{company}/{pixel}.js.
func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	company, pixel, ok := parseScriptPath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if s.collector != nil {
		w.Write(s.collector.Script(company, pixel))
	}
}

var scriptPath = regexp.MustCompile(`^/js/([A-Za-z0-9_-]{1,64})/([A-Za-z0-9_-]{1,64})\.js$`)

func parseScriptPath(path string) (company, pixel string, ok bool) {
	m := scriptPath.FindStringSubmatch(path)
	if m == nil {
		return "", "", false
	}
	if !companyPixelSegment.MatchString(m[1]) || !companyPixelSegment.MatchString(m[2]) {
		return "", "", false
	}
	return m[1], m[2], true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth := s.queueDepth()
	status := "ok"
	if depth > 10000 {
		status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]any{
		"status":      status,
		"queueDepth":  depth,
		"queueStatus": status,
	})
}
