package edge

import (
	"context"
	"net/netip"
	"testing"
)

func prefixes(t *testing.T, s ...string) []netip.Prefix {
	t.Helper()
	out := make([]netip.Prefix, 0, len(s))
	for _, p := range s {
		parsed, err := netip.ParsePrefix(p)
		if err != nil {
			t.Fatalf("bad test prefix %q: %v", p, err)
		}
		out = append(out, parsed)
	}
	return out
}

func TestDatacenterSet_Contains(t *testing.T) {
	set := NewDatacenterSet(prefixes(t, "13.32.0.0/15", "34.64.0.0/10"))

	cases := map[string]bool{
		"13.32.1.1":  true,
		"34.64.0.1":  true,
		"8.8.8.8":    false,
		"not-an-ip":  false,
	}
	for ip, want := range cases {
		if got := set.Contains(ip); got != want {
			t.Errorf("Contains(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestDatacenterSet_EmptySetRejectsEverything(t *testing.T) {
	set := NewDatacenterSet(nil)
	if set.Contains("8.8.8.8") {
		t.Error("expected empty set to contain nothing")
	}
}

type staticFetcher struct {
	prefixes []netip.Prefix
}

func (f staticFetcher) Fetch(ctx context.Context) ([]netip.Prefix, error) {
	return f.prefixes, nil
}

func TestDatacenterSet_RefreshSwapsInNewPrefixes(t *testing.T) {
	set := NewDatacenterSet(prefixes(t, "13.32.0.0/15"))
	if set.Contains("34.64.0.1") {
		t.Fatal("precondition: should not yet contain 34.64.0.1")
	}

	err := set.Refresh(context.Background(), staticFetcher{prefixes: prefixes(t, "34.64.0.0/10")})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if set.Contains("13.32.1.1") {
		t.Error("expected old prefix to be gone after refresh")
	}
	if !set.Contains("34.64.0.1") {
		t.Error("expected new prefix to be present after refresh")
	}
}

func TestTrieNode_ContainsOnlyAddressesInsidePrefix(t *testing.T) {
	root := &trieNode{}
	p, _ := netip.ParsePrefix("10.0.0.0/8")
	root.insert(p)

	addr := netip.MustParseAddr("10.1.2.3")
	if !root.contains(addr) {
		t.Error("expected address within /8 to be contained")
	}
	if root.contains(netip.MustParseAddr("11.1.2.3")) {
		t.Error("expected address outside /8 to not be contained")
	}
}
