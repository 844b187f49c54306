package edge

import (
	"net/netip"
	"sync"
	"time"
)

const (
	// RapidFireWindow and RapidFireThreshold flag an IP sending multiple
	// hits faster than a human could plausibly reload a page.
	RapidFireWindow    = 15 * time.Second
	RapidFireThreshold = 2

	// SubSecondDupeWindow flags back-to-back hits from the same IP closer
	// together than any real browser round trip.
	SubSecondDupeWindow = time.Second

	// SubnetWindow and SubnetIPThreshold flag a /24 suddenly fanning out
	// across distinct source addresses, typical of a rotating proxy pool.
	SubnetWindow       = 5 * time.Minute
	SubnetIPThreshold  = 3
)

// VelocityFlags reports which velocity heuristics tripped for a hit
// (§4.1.1 step 4).
type VelocityFlags struct {
	RapidFire     bool
	SubSecondDupe bool
	SubnetBurst   bool
}

type ipHistory struct {
	hits []time.Time // recent hit times, oldest first
}

type subnetHistory struct {
	ips map[string]time.Time // ip -> last seen within SubnetWindow
}

// VelocityTracker maintains short sliding windows of recent hit timing per
// IP and per /24 (or /64 for IPv6) subnet.
type VelocityTracker struct {
	mu      sync.Mutex
	byIP     map[string]*ipHistory
	bySubnet map[string]*subnetHistory
}

// NewVelocityTracker returns an empty tracker.
func NewVelocityTracker() *VelocityTracker {
	return &VelocityTracker{
		byIP:     make(map[string]*ipHistory),
		bySubnet: make(map[string]*subnetHistory),
	}
}

// Observe records a hit from ip at now and returns which velocity
// heuristics it tripped.
func (t *VelocityTracker) Observe(ip string, now time.Time) VelocityFlags {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return VelocityFlags{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	flags := VelocityFlags{}

	h, ok := t.byIP[ip]
	if !ok {
		h = &ipHistory{}
		t.byIP[ip] = h
	}
	if len(h.hits) > 0 {
		last := h.hits[len(h.hits)-1]
		if now.Sub(last) < SubSecondDupeWindow {
			flags.SubSecondDupe = true
		}
	}
	h.hits = append(h.hits, now)
	h.hits = pruneOlderThan(h.hits, now, RapidFireWindow)
	if len(h.hits) >= RapidFireThreshold {
		flags.RapidFire = true
	}

	subnetKey := subnetKeyFor(addr)
	sh, ok := t.bySubnet[subnetKey]
	if !ok {
		sh = &subnetHistory{ips: make(map[string]time.Time)}
		t.bySubnet[subnetKey] = sh
	}
	sh.ips[ip] = now
	cutoff := now.Add(-SubnetWindow)
	for seenIP, ts := range sh.ips {
		if ts.Before(cutoff) {
			delete(sh.ips, seenIP)
		}
	}
	if len(sh.ips) >= SubnetIPThreshold {
		flags.SubnetBurst = true
	}

	return flags
}

func pruneOlderThan(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(hits) && hits[i].Before(cutoff) {
		i++
	}
	return hits[i:]
}

// subnetKeyFor reduces an address to its containing /24 (IPv4) or /64
// (IPv6) network string, used as the subnet-burst grouping key.
func subnetKeyFor(addr netip.Addr) string {
	bits := 24
	if addr.Is6() && !addr.Is4In6() {
		bits = 64
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return addr.String()
	}
	return prefix.Masked().String()
}
