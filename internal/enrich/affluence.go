package enrich

import (
	"regexp"
	"strings"

	"github.com/signalcove/pixelwatch/internal/record"
)

// AffluenceTier is the coarse device-affluence bucket step 9 assigns.
type AffluenceTier string

const (
	AffluenceLow  AffluenceTier = "LOW"
	AffluenceMid  AffluenceTier = "MID"
	AffluenceHigh AffluenceTier = "HIGH"
)

// gpuTierTable maps a GPU renderer pattern to a tier score. Entries are
// ordered from the highest score down and the first match wins.
var gpuTierTable = []struct {
	re    *regexp.Regexp
	tier  string
	score int
}{
	{regexp.MustCompile(`(?i)apple m[1-9]`), "high", 3},
	{regexp.MustCompile(`(?i)rtx (30|40)\d\d`), "high", 3},
	{regexp.MustCompile(`(?i)radeon rx 6\d{3}`), "high", 3},
	{regexp.MustCompile(`(?i)gtx 1\d{3}`), "mid", 2},
	{regexp.MustCompile(`(?i)intel iris`), "mid", 2},
	{regexp.MustCompile(`(?i)intel (uhd|hd graphics)`), "low", 1},
	{regexp.MustCompile(`(?i)swiftshader|llvmpipe`), "low", 1},
}

// Affluence runs step 9: device affluence bucketing from GPU renderer
// string, core count, device memory, and screen size.
func Affluence(rec record.TrackingRecord) record.TrackingRecord {
	gpu, _ := record.LookupParam(rec.QueryString, "gpuRenderer")
	cores, hasCores := record.LookupInt(rec.QueryString, "cores")
	memGB, hasMem := record.LookupFloat(rec.QueryString, "deviceMemory")
	sw, _ := record.LookupInt(rec.QueryString, "sw")

	gpuTier := "unknown"
	score := 0
	for _, e := range gpuTierTable {
		if e.re.MatchString(gpu) {
			gpuTier = e.tier
			score += e.score
			break
		}
	}

	if hasCores {
		switch {
		case cores >= 8:
			score += 2
		case cores >= 4:
			score += 1
		}
	}
	if hasMem {
		switch {
		case memGB >= 8:
			score += 2
		case memGB >= 4:
			score += 1
		}
	}
	if sw >= 2560 {
		score += 1
	}

	tier := AffluenceLow
	switch {
	case score >= 5:
		tier = AffluenceHigh
	case score >= 2:
		tier = AffluenceMid
	}

	rec = rec.AppendEnrichment(record.Srv("affluence"), string(tier))
	if gpuTier != "unknown" {
		rec = rec.AppendEnrichment(record.Srv("gpuTier"), gpuTier)
	}
	return rec
}

// normalizeGPU is a small helper kept separate for the contradiction
// matrix (rule "swiftshader-gpu") to reuse without recomputing tiers.
func normalizeGPU(gpu string) string {
	return strings.ToLower(strings.TrimSpace(gpu))
}
