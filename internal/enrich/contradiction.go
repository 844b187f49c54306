package enrich

import (
	"strconv"
	"strings"

	"github.com/signalcove/pixelwatch/internal/record"
)

// ContradictionSeverity tiers a contradiction rule's implausibility.
type ContradictionSeverity string

const (
	Impossible ContradictionSeverity = "IMPOSSIBLE"
	Suspicious ContradictionSeverity = "SUSPICIOUS"
)

type contradictionRule struct {
	name     string
	severity ContradictionSeverity
	check    func(rec record.TrackingRecord) bool
}

var contradictionRules = []contradictionRule{
	{
		name:     "mobile-ua-wide-screen-mouse",
		severity: Impossible,
		check: func(rec record.TrackingRecord) bool {
			deviceType, _ := record.LookupParam(rec.QueryString, record.Srv("deviceType"))
			sw, _ := record.LookupInt(rec.QueryString, "sw")
			mouseMoves, _ := record.LookupInt(rec.QueryString, "mouseMoveCount")
			return deviceType == "mobile" && sw >= 1920 && mouseMoves > 0
		},
	},
	{
		name:     "macos-directx-gpu",
		severity: Impossible,
		check: func(rec record.TrackingRecord) bool {
			platform, _ := record.LookupParam(rec.QueryString, "platform")
			gpu, _ := record.LookupParam(rec.QueryString, "gpuRenderer")
			gpu = normalizeGPU(gpu)
			return strings.Contains(strings.ToLower(platform), "mac") &&
				(strings.Contains(gpu, "direct3d") || strings.Contains(gpu, "d3d"))
		},
	},
	{
		name:     "safari-macos-battery-api",
		severity: Impossible,
		check: func(rec record.TrackingRecord) bool {
			browser, _ := record.LookupParam(rec.QueryString, record.Srv("browser"))
			platform, _ := record.LookupParam(rec.QueryString, "platform")
			batteryAPI, _ := record.LookupBool(rec.QueryString, "batteryAPI")
			return strings.EqualFold(browser, "Safari") && strings.Contains(strings.ToLower(platform), "mac") && batteryAPI
		},
	},
	{
		name:     "touch-points-no-touch-support",
		severity: Impossible,
		check: func(rec record.TrackingRecord) bool {
			maxTouch, _ := record.LookupInt(rec.QueryString, "maxTouchPoints")
			touchSupported, ok := record.LookupBool(rec.QueryString, "touchSupported")
			return maxTouch > 0 && ok && !touchSupported
		},
	},
	{
		name:     "desktop-ua-narrow-screen",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			deviceType, _ := record.LookupParam(rec.QueryString, record.Srv("deviceType"))
			sw, ok := record.LookupInt(rec.QueryString, "sw")
			return deviceType == "desktop" && ok && sw < 600
		},
	},
	{
		name:     "linux-apple-fonts",
		severity: Impossible,
		check: func(rec record.TrackingRecord) bool {
			platform, _ := record.LookupParam(rec.QueryString, "platform")
			fonts, _ := record.LookupParam(rec.QueryString, "fonts")
			return strings.Contains(strings.ToLower(platform), "linux") && strings.Contains(fonts, "SF Pro")
		},
	},
	{
		name:     "win-fonts-on-mac",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			platform, _ := record.LookupParam(rec.QueryString, "platform")
			fonts, _ := record.LookupParam(rec.QueryString, "fonts")
			return strings.Contains(strings.ToLower(platform), "mac") && strings.Contains(fonts, "Segoe UI")
		},
	},
	{
		name:     "swiftshader-gpu",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			gpu, _ := record.LookupParam(rec.QueryString, "gpuRenderer")
			return strings.Contains(normalizeGPU(gpu), "swiftshader")
		},
	},
	{
		name:     "gpu-platform-mismatch",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			platform, _ := record.LookupParam(rec.QueryString, "platform")
			gpu := normalizeGPU(func() string { v, _ := record.LookupParam(rec.QueryString, "gpuRenderer"); return v }())
			return strings.Contains(strings.ToLower(platform), "win") && strings.Contains(gpu, "apple gpu")
		},
	},
	{
		name:     "ua-platform-mismatch",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			platform, _ := record.LookupParam(rec.QueryString, "platform")
			ua := strings.ToLower(rec.UserAgent)
			return strings.Contains(strings.ToLower(platform), "mac") && strings.Contains(ua, "windows")
		},
	},
	{
		name:     "clienthints-platform-mismatch",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			platform, _ := record.LookupParam(rec.QueryString, "platform")
			chPlatform, ok := record.LookupParam(rec.QueryString, "chPlatform")
			return ok && chPlatform != "" && !strings.EqualFold(chPlatform, platform)
		},
	},
	{
		name:     "empty-languages",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			langs, ok := record.LookupParam(rec.QueryString, "languages")
			return ok && strings.TrimSpace(langs) == ""
		},
	},
	{
		name:     "scroll-no-depth",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			sessionHitNum, _ := record.LookupInt(rec.QueryString, record.Srv("sessionHitNum"))
			scrollDepth, ok := record.LookupInt(rec.QueryString, "scrollDepth")
			return sessionHitNum >= 3 && ok && scrollDepth == 0
		},
	},
	{
		name:     "uniform-timing",
		severity: Suspicious,
		check: func(rec record.TrackingRecord) bool {
			variance, ok := record.LookupFloat(rec.QueryString, "keyTimingVariance")
			return ok && variance == 0
		},
	},
}

// Contradiction runs step 10: evaluate the full cross-signal rule matrix
// and tag the count plus the list of triggered rule names.
func Contradiction(rec record.TrackingRecord) record.TrackingRecord {
	var triggered []string
	for _, r := range contradictionRules {
		if r.check(rec) {
			triggered = append(triggered, r.name)
		}
	}

	rec = rec.AppendEnrichment(record.Srv("contradictions"), strconv.Itoa(len(triggered)))
	if len(triggered) > 0 {
		rec = rec.AppendEnrichment(record.Srv("contradictionList"), strings.Join(triggered, ","))
	}
	return rec
}
