package enrich

import (
	"strconv"
	"strings"

	"github.com/signalcove/pixelwatch/internal/record"
)

// Point weights for the step-15 lead-quality composite. Positive weights
// sum to 100; IsKnownBot zeroes the score outright and ContradictionCount
// subtracts from whatever remains (§4.3.1 row 15).
const (
	leadScoreResidentialIP    = 20
	leadScoreConsistentFP     = 15
	leadScoreMouseEntropyMax  = 20
	leadScoreFontCount        = 10
	leadScoreCanvasClean      = 10
	leadScoreTZMatch          = 10
	leadScoreSessionHitNumMax = 15

	leadScoreFontCountThreshold   = 10
	leadScoreContradictionPenalty = 5
)

// LeadScore runs step 15: a weighted blend of positive visitor-quality
// signals computed from enrichments already appended earlier in the
// pipeline, penalized for known-bot traffic and signal contradictions.
func LeadScore(rec record.TrackingRecord) record.TrackingRecord {
	if knownBot, ok := record.LookupParam(rec.QueryString, record.Srv("knownBot")); ok && knownBot == "1" {
		return rec.AppendEnrichment(record.Srv("leadScore"), "0")
	}

	score := 0.0

	if isResidentialIP(rec) {
		score += leadScoreResidentialIP
	}
	if hasConsistentFingerprint(rec) {
		score += leadScoreConsistentFP
	}
	if entropy, ok := record.LookupFloat(rec.QueryString, "mouseEntropy"); ok {
		if entropy > 100 {
			entropy = 100
		}
		if entropy > 0 {
			score += leadScoreMouseEntropyMax * (entropy / 100)
		}
	}
	if fontCount(rec) >= leadScoreFontCountThreshold {
		score += leadScoreFontCount
	}
	if isCanvasClean(rec) {
		score += leadScoreCanvasClean
	}
	if isTZMatch(rec) {
		score += leadScoreTZMatch
	}
	if hitNum, ok := record.LookupInt(rec.QueryString, record.Srv("sessionHitNum")); ok {
		bonus := float64(hitNum-1) * 3
		if bonus > leadScoreSessionHitNumMax {
			bonus = leadScoreSessionHitNumMax
		}
		if bonus > 0 {
			score += bonus
		}
	}

	if count, ok := record.LookupInt(rec.QueryString, record.Srv("contradictions")); ok {
		score -= float64(count) * leadScoreContradictionPenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return rec.AppendEnrichment(record.Srv("leadScore"), strconv.Itoa(int(score+0.5)))
}

func isResidentialIP(rec record.TrackingRecord) bool {
	if proxy, ok := record.LookupBool(rec.QueryString, record.Srv("ipapiProxy")); ok && proxy {
		return false
	}
	if cloud, ok := record.LookupParam(rec.QueryString, record.Srv("rdnsCloud")); ok && cloud == "1" {
		return false
	}
	return true
}

func hasConsistentFingerprint(rec record.TrackingRecord) bool {
	alert, ok := record.LookupParam(rec.QueryString, record.Srv("crossCustAlert"))
	return !ok || alert != "1"
}

func fontCount(rec record.TrackingRecord) int {
	fonts, ok := record.LookupParam(rec.QueryString, "fonts")
	if !ok || fonts == "" {
		return 0
	}
	return len(strings.Split(fonts, ","))
}

func isCanvasClean(rec record.TrackingRecord) bool {
	canvasFP, ok := record.LookupParam(rec.QueryString, "canvasFP")
	if !ok || canvasFP == "" {
		return false
	}
	list, ok := record.LookupParam(rec.QueryString, record.Srv("contradictionList"))
	if !ok {
		return true
	}
	return !strings.Contains(list, "swiftshader-gpu") && !strings.Contains(list, "gpu-platform-mismatch")
}

func isTZMatch(rec record.TrackingRecord) bool {
	flags, ok := record.LookupParam(rec.QueryString, record.Srv("culturalFlags"))
	if !ok {
		return true
	}
	for _, f := range strings.Split(flags, ",") {
		if f == "tz" {
			return false
		}
	}
	return true
}
