package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signalcove/pixelwatch/internal/record"
)

type noCache struct{}

func (noCache) Has(ip string) bool { return false }

type alwaysCached struct{}

func (alwaysCached) Has(ip string) bool { return true }

func TestGeoAPI_SuccessfulLookupAppendsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geoAPIResponse{CountryCode: "US", ISP: "Comcast", Proxy: false, Mobile: false})
	}))
	defer srv.Close()

	client := NewGeoAPIClient(srv.URL, "key", 500)
	out := client.GeoAPI(context.Background(), noCache{}, record.TrackingRecord{IPAddress: "1.2.3.4"})

	cc, _ := record.LookupParam(out.QueryString, record.Srv("ipapiCC"))
	if cc != "US" {
		t.Errorf("expected ipapiCC=US, got %q", cc)
	}
}

func TestGeoAPI_SkippedWhenIPAlreadyCached(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(geoAPIResponse{CountryCode: "US"})
	}))
	defer srv.Close()

	client := NewGeoAPIClient(srv.URL, "key", 500)
	client.GeoAPI(context.Background(), alwaysCached{}, record.TrackingRecord{IPAddress: "1.2.3.4"})

	if called {
		t.Error("expected geo API to not be called when IP is already cached")
	}
}

func TestGeoAPI_ThrottledRequestIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geoAPIResponse{CountryCode: "US"})
	}))
	defer srv.Close()

	client := NewGeoAPIClient(srv.URL, "key", 1) // 1 req/min burst
	client.GeoAPI(context.Background(), noCache{}, record.TrackingRecord{IPAddress: "1.2.3.4"})
	out := client.GeoAPI(context.Background(), noCache{}, record.TrackingRecord{IPAddress: "5.6.7.8"})

	if _, ok := record.LookupParam(out.QueryString, record.Srv("ipapiCC")); ok {
		t.Error("expected second rapid call to be throttled and yield no fields")
	}
}

func TestGeoAPI_EmptyIPIsNoop(t *testing.T) {
	client := NewGeoAPIClient("http://example.invalid", "key", 500)
	out := client.GeoAPI(context.Background(), noCache{}, record.TrackingRecord{})
	if out.QueryString != "" {
		t.Errorf("expected no enrichment for empty IP, got %q", out.QueryString)
	}
}
