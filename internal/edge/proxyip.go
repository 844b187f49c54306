package edge

import (
	"net"
	"net/http"
	"strings"
)

// clientIPHeaders is the priority order Edge walks to recover the real
// client address behind CDN/proxy layers (§4.1.1 step 5, §6.1). The first
// header present and non-empty wins; RemoteAddr is the last resort.
var clientIPHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
}

// ClientIP resolves the originating address for r, preferring CDN-supplied
// single-value headers over the multi-hop X-Forwarded-For list, falling
// back to the TCP peer address when nothing usable is present.
func ClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
