package enrich

import (
	"strconv"
	"sync"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

// DeadInternetDecay controls how fast the running per-customer bot-traffic
// ratio forgets old hits, expressed as the weight given to each new
// observation (§4.3.1 row 14: "per-customer running aggregate").
const DeadInternetDecay = 0.02

// deadInternetState is an exponentially weighted moving average of how
// "non-human" a customer's traffic looks, expressed as a 0-100 index.
type deadInternetState struct {
	index      float64
	lastUpdate time.Time
}

// DeadInternetTracker maintains one running index per CompanyID.
type DeadInternetTracker struct {
	mu    sync.Mutex
	state map[string]*deadInternetState
}

// NewDeadInternetTracker returns an empty tracker.
func NewDeadInternetTracker() *DeadInternetTracker {
	return &DeadInternetTracker{state: make(map[string]*deadInternetState)}
}

// DeadInternet runs step 14: classify this hit as bot-like or human-like
// using the enrichments already appended earlier in the pipeline, fold it
// into the company's running index with exponential decay, and stamp the
// resulting index onto the record.
func (t *DeadInternetTracker) DeadInternet(rec record.TrackingRecord, now time.Time) record.TrackingRecord {
	if rec.CompanyID == "" {
		return rec
	}

	sample := 0.0
	if botFlag, ok := record.LookupParam(rec.QueryString, record.Srv("knownBot")); ok && botFlag == "1" {
		sample = 100.0
	} else {
		if count, ok := record.LookupInt(rec.QueryString, record.Srv("contradictions")); ok && count >= 2 {
			sample = 60.0
		}
		if replay, ok := record.LookupParam(rec.QueryString, record.Srv("replayDetected")); ok && replay == "1" {
			sample += 40.0
		}
		if cloud, ok := record.LookupParam(rec.QueryString, record.Srv("rdnsCloud")); ok && cloud == "1" {
			sample += 20.0
		}
		if sample > 100.0 {
			sample = 100.0
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[rec.CompanyID]
	if !ok {
		st = &deadInternetState{index: sample}
		t.state[rec.CompanyID] = st
	} else {
		st.index = st.index + DeadInternetDecay*(sample-st.index)
	}
	st.lastUpdate = now

	idx := int(st.index + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx > 100 {
		idx = 100
	}
	return rec.AppendEnrichment(record.Srv("deadInternetIdx"), strconv.Itoa(idx))
}

// Sweep drops company state untouched for retention, bounding memory growth
// across the lifetime of a long-running worker process.
func (t *DeadInternetTracker) Sweep(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for company, st := range t.state {
		if st.lastUpdate.Before(cutoff) {
			delete(t.state, company)
			dropped++
		}
	}
	return dropped
}
