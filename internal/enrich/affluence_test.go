package enrich

import (
	"testing"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestAffluence_HighEndHardware(t *testing.T) {
	rec := record.TrackingRecord{QueryString: "gpuRenderer=Apple+M2+Pro&cores=10&deviceMemory=16&sw=2560"}
	out := Affluence(rec)

	tier, _ := record.LookupParam(out.QueryString, record.Srv("affluence"))
	if tier != string(AffluenceHigh) {
		t.Errorf("expected HIGH affluence, got %q", tier)
	}
}

func TestAffluence_LowEndHardware(t *testing.T) {
	rec := record.TrackingRecord{QueryString: "gpuRenderer=SwiftShader&cores=2&deviceMemory=2"}
	out := Affluence(rec)

	tier, _ := record.LookupParam(out.QueryString, record.Srv("affluence"))
	if tier != string(AffluenceLow) {
		t.Errorf("expected LOW affluence, got %q", tier)
	}
}

func TestAffluence_NoSignalsDefaultsLow(t *testing.T) {
	out := Affluence(record.TrackingRecord{})
	tier, _ := record.LookupParam(out.QueryString, record.Srv("affluence"))
	if tier != string(AffluenceLow) {
		t.Errorf("expected LOW affluence with no signals, got %q", tier)
	}
	gpuTier, ok := record.LookupParam(out.QueryString, record.Srv("gpuTier"))
	if ok && gpuTier != "" {
		t.Errorf("expected no gpuTier field when gpu unknown, got %q", gpuTier)
	}
}
