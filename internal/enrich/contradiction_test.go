package enrich

import (
	"testing"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestContradiction_MobileWideScreenMouseIsImpossible(t *testing.T) {
	rec := record.TrackingRecord{}.
		AppendEnrichment(record.Srv("deviceType"), "mobile")
	rec.QueryString += "&sw=1920&mouseMoveCount=5"

	out := Contradiction(rec)
	list, _ := record.LookupParam(out.QueryString, record.Srv("contradictionList"))
	if list != "mobile-ua-wide-screen-mouse" {
		t.Errorf("expected mobile-ua-wide-screen-mouse triggered, got %q", list)
	}
}

func TestContradiction_NoSignalsNoContradictions(t *testing.T) {
	out := Contradiction(record.TrackingRecord{})
	count, _ := record.LookupParam(out.QueryString, record.Srv("contradictions"))
	if count != "0" {
		t.Errorf("expected contradictions=0, got %q", count)
	}
}

func TestContradiction_SwiftshaderGPUFlagged(t *testing.T) {
	rec := record.TrackingRecord{QueryString: "gpuRenderer=Google+SwiftShader"}
	out := Contradiction(rec)
	list, _ := record.LookupParam(out.QueryString, record.Srv("contradictionList"))
	if list != "swiftshader-gpu" {
		t.Errorf("expected swiftshader-gpu triggered, got %q", list)
	}
}

func TestContradiction_TouchPointsWithoutTouchSupport(t *testing.T) {
	rec := record.TrackingRecord{QueryString: "maxTouchPoints=5&touchSupported=0"}
	out := Contradiction(rec)
	list, _ := record.LookupParam(out.QueryString, record.Srv("contradictionList"))
	if list != "touch-points-no-touch-support" {
		t.Errorf("expected touch-points-no-touch-support triggered, got %q", list)
	}
}

func TestContradiction_MultipleRulesAllCounted(t *testing.T) {
	rec := record.TrackingRecord{QueryString: "gpuRenderer=SwiftShader&languages="}
	out := Contradiction(rec)
	count, _ := record.LookupParam(out.QueryString, record.Srv("contradictions"))
	if count != "2" {
		t.Errorf("expected contradictions=2, got %q", count)
	}
}
