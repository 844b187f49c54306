package edge

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// encodeHeaders flattens a request's headers into a compact JSON object,
// stored verbatim in the Raw row's HeadersJson column for forensic replay.
func encodeHeaders(h http.Header) string {
	flat := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			flat[k] = strings.Join(v, ", ")
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func writeJSON(w http.ResponseWriter, v any) {
	json.NewEncoder(w).Encode(v)
}
