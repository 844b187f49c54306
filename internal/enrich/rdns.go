package enrich

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/signalcove/pixelwatch/internal/record"
)

// RDNSTimeout bounds step 3's I/O (§4.3.1 row 3).
const RDNSTimeout = 2 * time.Second

var cloudHostnamePattern = regexp.MustCompile(`(?i)(amazonaws\.com|googleusercontent\.com|azure|cloudfront\.net|digitalocean|linode|ovh\.net|hetzner)`)

// Resolver performs reverse DNS lookups. Production wiring is a
// *ReverseResolver backed by miekg/dns against a configured resolver
// address; tests substitute a stub.
type Resolver interface {
	PTR(ctx context.Context, ip string) (string, error)
}

// ReverseResolver issues a single PTR query per lookup against a fixed
// upstream nameserver, bypassing the OS resolver's cache so in-flight
// requests respect the step's own timeout precisely.
type ReverseResolver struct {
	Nameserver string // host:port, e.g. "1.1.1.1:53"
	client     *dns.Client
}

// NewReverseResolver builds a resolver issuing queries against nameserver.
func NewReverseResolver(nameserver string) *ReverseResolver {
	return &ReverseResolver{
		Nameserver: nameserver,
		client:     &dns.Client{Timeout: RDNSTimeout},
	}
}

func (r *ReverseResolver) PTR(ctx context.Context, ip string) (string, error) {
	reverseName, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(reverseName, dns.TypePTR)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.Nameserver)
	if err != nil {
		return "", err
	}
	for _, ans := range in.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", nil
}

// RDNS runs step 3: reverse DNS with a hostname-pattern cloud-provider
// flag. Resolution failures and timeouts yield no _srv_* fields (per-step
// error policy, §4.3.1).
func RDNS(ctx context.Context, resolver Resolver, rec record.TrackingRecord) record.TrackingRecord {
	if rec.IPAddress == "" || resolver == nil {
		return rec
	}

	ctx, cancel := context.WithTimeout(ctx, RDNSTimeout)
	defer cancel()

	hostname, err := resolver.PTR(ctx, rec.IPAddress)
	if err != nil || hostname == "" {
		return rec
	}

	rec = rec.AppendEnrichment(record.Srv("rdns"), hostname)
	if cloudHostnamePattern.MatchString(hostname) {
		rec = rec.AppendEnrichment(record.Srv("rdnsCloud"), "1")
	}
	return rec
}
