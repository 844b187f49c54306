package enrich

import (
	"strconv"
	"strings"

	"github.com/signalcove/pixelwatch/internal/record"
)

// culturalWeights are subtracted from a starting score of 100 for each
// locale-signal mismatch detected (§4.3.1 row 11).
const (
	weightTimezone = 30
	weightLanguage = 25
	weightFonts    = 20
	weightNumFmt   = 15
	weightVoices   = 10
)

// countryTimezonePrefix is a coarse country -> IANA timezone-region
// mapping used to flag an obviously inconsistent tz/geo-country pairing.
var countryTimezonePrefix = map[string]string{
	"US": "America/",
	"CA": "America/",
	"GB": "Europe/",
	"DE": "Europe/",
	"FR": "Europe/",
	"JP": "Asia/Tokyo",
	"CN": "Asia/Shanghai",
	"IN": "Asia/Kolkata",
	"AU": "Australia/",
	"BR": "America/Sao_Paulo",
}

var countryLanguagePrefix = map[string]string{
	"US": "en",
	"GB": "en",
	"DE": "de",
	"FR": "fr",
	"JP": "ja",
	"CN": "zh",
	"BR": "pt",
}

// countryDecimalSeparator is the expected decimal-point character in a
// browser-reported formatted-number sample (Intl.NumberFormat output).
var countryDecimalSeparator = map[string]string{
	"US": ".",
	"GB": ".",
	"DE": ",",
	"FR": ",",
	"BR": ",",
}

// Cultural runs step 11: starts at 100 and subtracts a fixed weight when
// tz, lang or numFmt disagree with the geo-resolved country (set by step
// 4/5 as _srv_mmCC/_srv_ipapiCC), or when fonts or voices are reported
// empty.
func Cultural(rec record.TrackingRecord) record.TrackingRecord {
	country, ok := record.LookupParam(rec.QueryString, record.Srv("mmCC"))
	if !ok || country == "" {
		country, ok = record.LookupParam(rec.QueryString, record.Srv("ipapiCC"))
	}
	if !ok || country == "" {
		return rec // nothing to compare against; no score computed
	}

	score := 100
	var flags []string

	if tz, ok := record.LookupParam(rec.QueryString, "tz"); ok {
		if want, known := countryTimezonePrefix[country]; known && !strings.HasPrefix(tz, want) {
			score -= weightTimezone
			flags = append(flags, "tz")
		}
	}
	if lang, ok := record.LookupParam(rec.QueryString, "lang"); ok {
		if want, known := countryLanguagePrefix[country]; known && !strings.HasPrefix(strings.ToLower(lang), want) {
			score -= weightLanguage
			flags = append(flags, "lang")
		}
	}
	if fonts, ok := record.LookupParam(rec.QueryString, "fonts"); ok && strings.TrimSpace(fonts) == "" {
		score -= weightFonts
		flags = append(flags, "fonts")
	}
	if numFmt, ok := record.LookupParam(rec.QueryString, "numFmt"); ok {
		if want, known := countryDecimalSeparator[country]; known && !strings.Contains(numFmt, want) {
			score -= weightNumFmt
			flags = append(flags, "numFmt")
		}
	}
	if voices, ok := record.LookupParam(rec.QueryString, "voices"); ok && strings.TrimSpace(voices) == "" {
		score -= weightVoices
		flags = append(flags, "voices")
	}

	if score < 0 {
		score = 0
	}

	rec = rec.AppendEnrichment(record.Srv("culturalScore"), strconv.Itoa(score))
	if len(flags) > 0 {
		rec = rec.AppendEnrichment(record.Srv("culturalFlags"), strings.Join(flags, ","))
	}
	return rec
}
