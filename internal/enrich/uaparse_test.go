package enrich

import (
	"testing"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestUAParse_DesktopChrome(t *testing.T) {
	rec := record.TrackingRecord{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"}
	out := UAParse(rec)

	browser, _ := record.LookupParam(out.QueryString, record.Srv("browser"))
	if browser != "Chrome" {
		t.Errorf("expected browser=Chrome, got %q", browser)
	}
	deviceType, _ := record.LookupParam(out.QueryString, record.Srv("deviceType"))
	if deviceType != "desktop" {
		t.Errorf("expected deviceType=desktop, got %q", deviceType)
	}
}

func TestUAParse_MobileSafariOniPhone(t *testing.T) {
	rec := record.TrackingRecord{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"}
	out := UAParse(rec)

	deviceType, _ := record.LookupParam(out.QueryString, record.Srv("deviceType"))
	if deviceType != "mobile" {
		t.Errorf("expected deviceType=mobile, got %q", deviceType)
	}
	brand, _ := record.LookupParam(out.QueryString, record.Srv("deviceBrand"))
	if brand != "Apple" {
		t.Errorf("expected deviceBrand=Apple, got %q", brand)
	}
}

func TestUAParse_EmptyUserAgentIsNoop(t *testing.T) {
	out := UAParse(record.TrackingRecord{})
	if out.QueryString != "" {
		t.Errorf("expected no enrichment for empty UA, got %q", out.QueryString)
	}
}
