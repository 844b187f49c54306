package edge

import (
	"context"
	"net/netip"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

// trieNode is one node of a binary trie over IPv4 address bits. Any
// inserted prefix on the path from the root to an address marks that
// address as belonging to the datacenter set (fast enricher step 2, §4.1.1).
type trieNode struct {
	children [2]*trieNode
	terminal bool
}

func (n *trieNode) insert(prefix netip.Prefix) {
	if !prefix.Addr().Is4() {
		return
	}
	bytes := prefix.Addr().As4()
	cur := n
	for i := 0; i < prefix.Bits(); i++ {
		bit := (bytes[i/8] >> (7 - uint(i%8))) & 1
		if cur.children[bit] == nil {
			cur.children[bit] = &trieNode{}
		}
		cur = cur.children[bit]
	}
	cur.terminal = true
}

func (n *trieNode) contains(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	bytes := addr.As4()
	cur := n
	if cur.terminal {
		return true
	}
	for i := 0; i < 32; i++ {
		bit := (bytes[i/8] >> (7 - uint(i%8))) & 1
		cur = cur.children[bit]
		if cur == nil {
			return false
		}
		if cur.terminal {
			return true
		}
	}
	return false
}

// snapshot bundles the trie with a bloom filter seeded over the same
// prefix set's /24 networks (IPv4). A bloom "definitely absent" answer lets
// the hot path skip the trie walk entirely for the overwhelming majority of
// non-datacenter addresses; a "maybe present" answer falls through to the
// exact trie check, which never false-positives.
type snapshot struct {
	root   *trieNode
	filter *bloom.BloomFilter
}

// DatacenterSet holds the current cloud-provider CIDR membership set,
// reference-swapped atomically on refresh so readers never observe a
// partially rebuilt version (§4.1.1 step 2, §9 "Atomic reference swap for
// immutable datasets").
type DatacenterSet struct {
	current atomic.Pointer[snapshot]
}

// NewDatacenterSet builds a set already loaded with an initial prefix list
// (typically the result of calling Fetcher once at startup, so Edge never
// serves traffic with an empty datacenter set).
func NewDatacenterSet(prefixes []netip.Prefix) *DatacenterSet {
	s := &DatacenterSet{}
	s.store(prefixes)
	return s
}

func (s *DatacenterSet) store(prefixes []netip.Prefix) {
	root := &trieNode{}
	n := uint(1)
	for _, p := range prefixes {
		if p.Addr().Is4() && p.Bits() <= 24 {
			n += 1 << uint(24-p.Bits())
		} else {
			n++
		}
	}
	filter := bloom.NewWithEstimates(n, 0.01)
	for _, p := range prefixes {
		root.insert(p)
		seedBloomWithNetwork(filter, p)
	}
	s.current.Store(&snapshot{root: root, filter: filter})
}

// seedBloomWithNetwork adds every /24 network touched by prefix to filter,
// so a later /24-keyed bloom test can fast-reject addresses nowhere near
// any known datacenter range.
func seedBloomWithNetwork(filter *bloom.BloomFilter, prefix netip.Prefix) {
	if !prefix.Addr().Is4() {
		return
	}
	bits := prefix.Bits()
	if bits > 24 {
		filter.Add(network24Key(prefix.Addr()))
		return
	}
	// For broader prefixes, seed every /24 they cover so containment via the
	// bloom pre-check stays a safe (no-false-negative) approximation;
	// exactness is always re-verified by the trie.
	base := prefix.Masked().Addr().As4()
	count := 1 << uint(24-bits)
	network := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8
	for i := 0; i < count; i++ {
		n := network + uint32(i)<<8
		filter.Add([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8)})
	}
}

func network24Key(addr netip.Addr) []byte {
	b := addr.As4()
	return []byte{b[0], b[1], b[2]}
}

// Contains reports whether ip belongs to a known cloud-provider CIDR.
func (s *DatacenterSet) Contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return false
	}
	snap := s.current.Load()
	if snap == nil {
		return false
	}
	if !snap.filter.Test(network24Key(addr)) {
		return false // bloom guarantees no false negatives: definitely not datacenter
	}
	return snap.root.contains(addr)
}

// Fetcher retrieves the current cloud-provider CIDR list (AWS/GCP/Azure
// published ranges). Production wiring wraps an HTTP client pulling the
// providers' published JSON range files; tests use a static list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]netip.Prefix, error)
}

// Refresh pulls a new prefix list via fetcher and swaps it in. Called on
// EdgeConfig.DatacenterRefresh's interval by a background ticker.
func (s *DatacenterSet) Refresh(ctx context.Context, fetcher Fetcher) error {
	prefixes, err := fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	s.store(prefixes)
	return nil
}
