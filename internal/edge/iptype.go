package edge

import "net/netip"

// IPType classifies an address against the reserved/private ranges fast
// enricher step 1 (§4.1.1).
type IPType string

const (
	IPTypePublic        IPType = "public"
	IPTypePrivate       IPType = "private"
	IPTypeLoopback      IPType = "loopback"
	IPTypeLinkLocal     IPType = "link_local"
	IPTypeCGNAT         IPType = "cgnat"
	IPTypeDocumentation IPType = "documentation"
	IPTypeMulticast     IPType = "multicast"
	IPTypeReserved      IPType = "reserved"
	IPTypeBenchmark     IPType = "benchmark"
	IPTypeInvalid       IPType = "invalid"
)

var reservedPrefixes = []struct {
	prefix netip.Prefix
	typ    IPType
}{
	// RFC 1918 private.
	{mustPrefix("10.0.0.0/8"), IPTypePrivate},
	{mustPrefix("172.16.0.0/12"), IPTypePrivate},
	{mustPrefix("192.168.0.0/16"), IPTypePrivate},
	// Loopback.
	{mustPrefix("127.0.0.0/8"), IPTypeLoopback},
	{mustPrefix("::1/128"), IPTypeLoopback},
	// Link-local.
	{mustPrefix("169.254.0.0/16"), IPTypeLinkLocal},
	{mustPrefix("fe80::/10"), IPTypeLinkLocal},
	// Carrier-grade NAT (RFC 6598).
	{mustPrefix("100.64.0.0/10"), IPTypeCGNAT},
	// Documentation (RFC 5737 / RFC 3849).
	{mustPrefix("192.0.2.0/24"), IPTypeDocumentation},
	{mustPrefix("198.51.100.0/24"), IPTypeDocumentation},
	{mustPrefix("203.0.113.0/24"), IPTypeDocumentation},
	{mustPrefix("2001:db8::/32"), IPTypeDocumentation},
	// Benchmarking (RFC 2544).
	{mustPrefix("198.18.0.0/15"), IPTypeBenchmark},
	// Multicast.
	{mustPrefix("224.0.0.0/4"), IPTypeMulticast},
	{mustPrefix("ff00::/8"), IPTypeMulticast},
	// Other IANA reserved.
	{mustPrefix("0.0.0.0/8"), IPTypeReserved},
	{mustPrefix("240.0.0.0/4"), IPTypeReserved},
}

func mustPrefix(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ClassifyIP returns the reserved-range classification of ip, or
// IPTypePublic if it matches none of the reserved ranges, or IPTypeInvalid
// if ip does not parse.
func ClassifyIP(ip string) IPType {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return IPTypeInvalid
	}
	for _, r := range reservedPrefixes {
		if r.prefix.Contains(addr) {
			return r.typ
		}
	}
	return IPTypePublic
}

// SkipGeo reports whether geolocation lookups are pointless for this
// classification (anything that isn't a routable public address).
func SkipGeo(t IPType) bool {
	return t != IPTypePublic
}
