package worker

import (
	"time"

	"github.com/signalcove/pixelwatch/internal/ttlcache"
)

// geoIPCache adapts ttlcache.Cache to enrich.IPCache, answering step 5's
// "already resolved" gate without making an external API call. Entries are
// marked present with a 24h TTL after any successful geo resolution
// (local or external), matching the local IP-geo cache semantics of
// §4.3.1 row 5.
type geoIPCache struct {
	cache *ttlcache.Cache
}

const geoCacheEntryTTL = 24 * time.Hour

func newGeoIPCache(maxMemory int) *geoIPCache {
	return &geoIPCache{cache: ttlcache.New(maxMemory)}
}

// Has reports whether ip has a cached geo resolution, without triggering
// computation on a miss.
func (c *geoIPCache) Has(ip string) bool {
	v := c.cache.Get(ip, nil)
	return v != nil
}

// Mark records ip as resolved, so future lookups in the cache window skip
// the external API call.
func (c *geoIPCache) Mark(ip string) {
	c.cache.Get(ip, func() (interface{}, time.Duration, int) {
		return true, geoCacheEntryTTL, 1
	})
}
