package edge

import (
	"sync"
	"time"
)

// FingerprintWindow is the lookback period for fingerprint-stability
// tracking (§4.1.1 step 3): an IP cycling through several distinct device
// fingerprints inside this window smells like a shared NAT gateway or a
// bot farm rotating identities.
const FingerprintWindow = 24 * time.Hour

// FingerprintAlertThreshold is the number of distinct fingerprints seen
// for one IP inside FingerprintWindow that trips _srv_fpAlert.
const FingerprintAlertThreshold = 3

type ipWindow struct {
	seen map[string]time.Time // fingerprint -> last-seen time
}

// FingerprintTracker keeps a bounded per-IP sliding window of recently seen
// device fingerprints. It is safe for concurrent use across Edge request
// goroutines.
type FingerprintTracker struct {
	mu      sync.Mutex
	windows map[string]*ipWindow
}

// NewFingerprintTracker returns an empty tracker.
func NewFingerprintTracker() *FingerprintTracker {
	return &FingerprintTracker{windows: make(map[string]*ipWindow)}
}

// Observe records that fingerprint was seen for ip at now, prunes entries
// older than FingerprintWindow, and reports the resulting distinct
// fingerprint count for that IP plus whether it has crossed the alert
// threshold.
func (t *FingerprintTracker) Observe(ip, fingerprint string, now time.Time) (uniqueCount int, alert bool) {
	if ip == "" || fingerprint == "" {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[ip]
	if !ok {
		w = &ipWindow{seen: make(map[string]time.Time)}
		t.windows[ip] = w
	}
	w.seen[fingerprint] = now

	cutoff := now.Add(-FingerprintWindow)
	for fp, ts := range w.seen {
		if ts.Before(cutoff) {
			delete(w.seen, fp)
		}
	}
	if len(w.seen) == 0 {
		delete(t.windows, ip)
		return 0, false
	}

	count := len(w.seen)
	return count, count >= FingerprintAlertThreshold
}

// Sweep drops IP windows that contain no fingerprints still inside
// FingerprintWindow of now. Intended to be called periodically so memory
// does not grow unbounded from IPs that stop sending traffic.
func (t *FingerprintTracker) Sweep(now time.Time) int {
	cutoff := now.Add(-FingerprintWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for ip, w := range t.windows {
		for fp, ts := range w.seen {
			if ts.Before(cutoff) {
				delete(w.seen, fp)
			}
		}
		if len(w.seen) == 0 {
			delete(t.windows, ip)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of IPs currently tracked.
func (t *FingerprintTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
