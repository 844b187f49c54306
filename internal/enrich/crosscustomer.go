package enrich

import (
	"strconv"
	"sync"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

// CrossCustomerWindow and CrossCustomerAlertThreshold implement step 8:
// the same (IP, fingerprint) pair showing up across several tenants in a
// short window signals a shared device/bot farm rather than independent
// traffic (§4.3.1 row 8).
const (
	CrossCustomerWindow         = 5 * time.Minute
	CrossCustomerAlertThreshold = 3
)

type keyState struct {
	companies map[string]time.Time
}

// CrossCustomerTracker maintains the sliding window of (IP, fingerprint)
// -> {CompanyID -> lastSeen}.
type CrossCustomerTracker struct {
	mu    sync.Mutex
	state map[string]*keyState
}

// NewCrossCustomerTracker returns an empty tracker.
func NewCrossCustomerTracker() *CrossCustomerTracker {
	return &CrossCustomerTracker{state: make(map[string]*keyState)}
}

// CrossCustomer runs step 8. fingerprint is typically the canvas
// fingerprint; callers pass whatever fast fingerprint signal is cheapest
// to recompute at this layer.
func (t *CrossCustomerTracker) CrossCustomer(rec record.TrackingRecord, ip, fingerprint string, now time.Time) record.TrackingRecord {
	if ip == "" || fingerprint == "" || rec.CompanyID == "" {
		return rec
	}
	key := ip + "|" + fingerprint

	t.mu.Lock()
	defer t.mu.Unlock()

	ks, ok := t.state[key]
	if !ok {
		ks = &keyState{companies: make(map[string]time.Time)}
		t.state[key] = ks
	}
	ks.companies[rec.CompanyID] = now

	cutoff := now.Add(-CrossCustomerWindow)
	for company, ts := range ks.companies {
		if ts.Before(cutoff) {
			delete(ks.companies, company)
		}
	}
	if len(ks.companies) == 0 {
		delete(t.state, key)
		return rec
	}

	count := len(ks.companies)
	rec = rec.AppendEnrichment(record.Srv("crossCustHits"), strconv.Itoa(count))
	rec = rec.AppendEnrichment(record.Srv("crossCustWindow"), strconv.Itoa(int(CrossCustomerWindow.Minutes())))
	if count >= CrossCustomerAlertThreshold {
		rec = rec.AppendEnrichment(record.Srv("crossCustAlert"), "1")
	}
	return rec
}

// Sweep drops (IP, fingerprint) keys with no companies left inside the
// window, bounding memory growth.
func (t *CrossCustomerTracker) Sweep(now time.Time) int {
	cutoff := now.Add(-CrossCustomerWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for key, ks := range t.state {
		for company, ts := range ks.companies {
			if ts.Before(cutoff) {
				delete(ks.companies, company)
			}
		}
		if len(ks.companies) == 0 {
			delete(t.state, key)
			dropped++
		}
	}
	return dropped
}
