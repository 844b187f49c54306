package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/signalcove/pixelwatch/internal/record"
)

// GeoAPITimeout bounds step 5's HTTP round trip (§4.3.1 row 5).
const GeoAPITimeout = time.Second

type geoAPIResponse struct {
	CountryCode string `json:"countryCode"`
	ISP         string `json:"isp"`
	Proxy       bool   `json:"proxy"`
	Mobile      bool   `json:"mobile"`
	Reverse     string `json:"reverse"`
	AS          string `json:"as"`
}

// IPCache reports whether ip is already present in the local IP-geo cache
// (populated from the IP dimension table), gating step 5's "skip when
// already present" clause.
type IPCache interface {
	Has(ip string) bool
}

// GeoAPIClient calls an external IP-geolocation API, throttled to a
// configured requests-per-minute budget via a token bucket.
type GeoAPIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewGeoAPIClient builds a client throttled to requestsPerMinute.
func NewGeoAPIClient(baseURL, apiKey string, requestsPerMinute int) *GeoAPIClient {
	perSecond := float64(requestsPerMinute) / 60.0
	return &GeoAPIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: GeoAPITimeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), requestsPerMinute),
	}
}

// GeoAPI runs step 5: external geo API lookup, skipped when the IP is
// already cached, throttled by the token-bucket limiter (a call over
// budget is skipped, not queued), and tolerant of timeout/error per the
// per-step error policy.
func (c *GeoAPIClient) GeoAPI(ctx context.Context, cache IPCache, rec record.TrackingRecord) record.TrackingRecord {
	if c == nil || rec.IPAddress == "" {
		return rec
	}
	if cache != nil && cache.Has(rec.IPAddress) {
		return rec
	}
	if !c.limiter.Allow() {
		return rec
	}

	ctx, cancel := context.WithTimeout(ctx, GeoAPITimeout)
	defer cancel()

	url := fmt.Sprintf("%s?ip=%s&key=%s", c.baseURL, rec.IPAddress, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rec
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return rec
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return rec
	}

	var body geoAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return rec
	}

	if body.CountryCode != "" {
		rec = rec.AppendEnrichment(record.Srv("ipapiCC"), body.CountryCode)
	}
	if body.ISP != "" {
		rec = rec.AppendEnrichment(record.Srv("ipapiISP"), body.ISP)
	}
	rec = rec.AppendEnrichment(record.Srv("ipapiProxy"), strconv.FormatBool(body.Proxy))
	rec = rec.AppendEnrichment(record.Srv("ipapiMobile"), strconv.FormatBool(body.Mobile))
	if body.Reverse != "" {
		rec = rec.AppendEnrichment(record.Srv("ipapiReverse"), body.Reverse)
	}
	if body.AS != "" {
		rec = rec.AppendEnrichment(record.Srv("ipapiASN"), body.AS)
	}

	return rec
}
