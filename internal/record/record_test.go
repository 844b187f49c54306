package record

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestAppendEnrichment_PreservesOriginalParams(t *testing.T) {
	r := TrackingRecord{QueryString: "sw=1920&sh=1080"}
	out := r.AppendEnrichment(Srv("knownBot"), "1")

	if out.QueryString == r.QueryString {
		t.Fatal("expected new query string")
	}
	if r.QueryString != "sw=1920&sh=1080" {
		t.Fatal("original record must not be mutated")
	}

	v, ok := LookupParam(out.QueryString, "sw")
	if !ok || v != "1920" {
		t.Errorf("expected original param sw=1920 preserved, got %q ok=%v", v, ok)
	}
	v, ok = LookupParam(out.QueryString, "_srv_knownBot")
	if !ok || v != "1" {
		t.Errorf("expected _srv_knownBot=1, got %q ok=%v", v, ok)
	}
}

func TestAppendEnrichment_PanicsOnBadPrefix(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-_srv_ key")
		}
	}()
	r := TrackingRecord{}
	r.AppendEnrichment("botScore", "1")
}

func TestLookupParam_Absent(t *testing.T) {
	if _, ok := LookupParam("a=1", "b"); ok {
		t.Fatal("expected ok=false for absent param")
	}
}

func TestLookupInt_ValidAndInvalid(t *testing.T) {
	if n, ok := LookupInt("cores=8", "cores"); !ok || n != 8 {
		t.Errorf("expected 8, true; got %d, %v", n, ok)
	}
	if _, ok := LookupInt("cores=notanumber", "cores"); ok {
		t.Error("expected ok=false for non-numeric value")
	}
	if _, ok := LookupInt("a=1", "cores"); ok {
		t.Error("expected ok=false for absent param")
	}
}

func TestLookupFloat(t *testing.T) {
	if f, ok := LookupFloat("mouseEntropy=73.5", "mouseEntropy"); !ok || f != 73.5 {
		t.Errorf("expected 73.5, true; got %v, %v", f, ok)
	}
}

func TestLookupBool_Variants(t *testing.T) {
	cases := map[string]bool{"1": true, "0": false, "true": true, "false": false, "TRUE": true}
	for raw, want := range cases {
		got, ok := LookupBool("touch="+raw, "touch")
		if !ok || got != want {
			t.Errorf("LookupBool(%q) = %v, %v; want %v, true", raw, got, ok, want)
		}
	}
	if _, ok := LookupBool("touch=maybe", "touch"); ok {
		t.Error("expected ok=false for unrecognized boolean literal")
	}
}

func TestLookupCustomParams(t *testing.T) {
	qs := "sw=1920&_cp_campaign=spring&_cp_ref=42&_srv_knownBot=1"
	out := LookupCustomParams(qs)
	if out["_cp_campaign"] != "spring" || out["_cp_ref"] != "42" {
		t.Errorf("unexpected custom params: %v", out)
	}
	if _, present := out["_srv_knownBot"]; present {
		t.Error("_srv_ params must not be treated as custom params")
	}
}

func TestDeviceHash_MatchesSHA256OfConcatenatedFields(t *testing.T) {
	qs := "canvasFP=abc&audioFP=def&webglFP=ghi&fonts=Arial,Verdana&sw=1920&sh=1080"
	got := DeviceHash(qs)

	sum := sha256.Sum256([]byte("abc" + "def" + "ghi" + "Arial,Verdana" + "1920x1080"))
	want := hex.EncodeToString(sum[:])

	if got != want {
		t.Errorf("DeviceHash = %q, want %q", got, want)
	}
}

func TestDeviceHash_StableAcrossParamOrder(t *testing.T) {
	a := DeviceHash("canvasFP=abc&audioFP=def&webglFP=ghi&fonts=x&sw=100&sh=200")
	b := DeviceHash("sh=200&sw=100&fonts=x&webglFP=ghi&audioFP=def&canvasFP=abc")
	if a != b {
		t.Error("expected DeviceHash to be independent of query param order")
	}
}

func TestTruncateHeader(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'a'
	}
	got := TruncateHeader(string(long))
	if len(got) != maxHeaderFieldLen {
		t.Errorf("expected truncation to %d chars, got %d", maxHeaderFieldLen, len(got))
	}
}
