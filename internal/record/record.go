// Package record defines the in-flight carrier record that flows
// Edge → Worker → Raw store, and the only sanctioned way to extend it.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ServerEnrichmentPrefix is the namespace every enrichment-appended
// parameter must use. Original browser-reported parameters never carry
// this prefix; enforcing it here is invariant 7 (every record accepted at
// Edge carries only additive server enrichments).
const ServerEnrichmentPrefix = "_srv_"

// TrackingRecord is the unit that flows Edge → Worker → Raw. It is
// immutable apart from QueryString: enrichment steps call AppendEnrichment
// to produce a new record value rather than mutating one in place.
type TrackingRecord struct {
	ReceivedAt  time.Time
	CompanyID   string
	PixelID     string
	IPAddress   string
	UserAgent   string
	Referer     string
	RequestPath string
	HeadersJson string
	QueryString string
}

const maxHeaderFieldLen = 2000

// TruncateHeader caps a raw header value at the carrier's documented
// 2000-character limit (§3.1).
func TruncateHeader(s string) string {
	if len(s) <= maxHeaderFieldLen {
		return s
	}
	return s[:maxHeaderFieldLen]
}

// AppendEnrichment returns a new record whose carrier has an additional
// &_srv_key=value pair. key must already carry the ServerEnrichmentPrefix;
// callers should use the Srv helper below instead of constructing raw keys.
func (r TrackingRecord) AppendEnrichment(key, value string) TrackingRecord {
	if !strings.HasPrefix(key, ServerEnrichmentPrefix) {
		panic(fmt.Sprintf("record: enrichment key %q missing required %q prefix", key, ServerEnrichmentPrefix))
	}
	out := r
	out.QueryString = r.QueryString + "&" + url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return out
}

// Srv builds a well-formed server-enrichment parameter name, e.g.
// Srv("knownBot") => "_srv_knownBot".
func Srv(name string) string {
	return ServerEnrichmentPrefix + name
}

// LookupParam returns the first value of name in the carrier query string
// qs, and whether it was present at all. This is the single parsing
// primitive every enrichment step and the ETL's phase extraction use —
// parsing happens on demand, never eagerly, per the design notes in §9.
func LookupParam(qs, name string) (string, bool) {
	// ParseQuery keeps every well-formed pair even when another pair fails
	// to decode, so one bad parameter does not hide the rest.
	values, _ := url.ParseQuery(qs)
	vs, ok := values[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// LookupInt parses name as a base-10 integer, returning ok=false on
// absence or cast failure (never an error to the caller — absence and
// malformed input are indistinguishable by design, per §3.3's "any
// unparseable field becomes NULL").
func LookupInt(qs, name string) (int64, bool) {
	s, ok := LookupParam(qs, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// LookupFloat parses name as a float64.
func LookupFloat(qs, name string) (float64, bool) {
	s, ok := LookupParam(qs, name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// LookupBool parses name as a boolean. Accepts "1"/"0" and "true"/"false"
// (case-insensitive), matching the carrier's mixed numeric/boolean flag
// conventions (§6.2).
func LookupBool(qs, name string) (bool, bool) {
	s, ok := LookupParam(qs, name)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return true, true
	case "0", "false":
		return false, true
	default:
		return false, false
	}
}

// DeviceHash computes the carrier's device identity key: SHA-256 over
// CanvasFP ∥ AudioFP ∥ WebGLFP ∥ FontList ∥ ScreenResolution (§3.4). Both
// the Worker's session-stitching step and the ETL's Device upsert phase
// derive it from the same carrier fields, so it lives here rather than in
// either caller.
func DeviceHash(qs string) string {
	canvasFP, _ := LookupParam(qs, "canvasFP")
	audioFP, _ := LookupParam(qs, "audioFP")
	webglFP, _ := LookupParam(qs, "webglFP")
	fonts, _ := LookupParam(qs, "fonts")
	sw, _ := LookupParam(qs, "sw")
	sh, _ := LookupParam(qs, "sh")
	screenRes := sw + "x" + sh

	h := sha256.New()
	h.Write([]byte(canvasFP))
	h.Write([]byte(audioFP))
	h.Write([]byte(webglFP))
	h.Write([]byte(fonts))
	h.Write([]byte(screenRes))
	return hex.EncodeToString(h.Sum(nil))
}

// LookupCustomParams collects every _cp_-prefixed parameter into a map,
// used by ETL phase 12 to aggregate custom tenant fields into a JSON
// column.
func LookupCustomParams(qs string) map[string]string {
	values, _ := url.ParseQuery(qs)
	out := map[string]string{}
	for k, vs := range values {
		if strings.HasPrefix(k, "_cp_") && len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
