package enrich

import (
	"testing"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestCultural_NoMismatchScoresHundred(t *testing.T) {
	rec := record.TrackingRecord{}.AppendEnrichment(record.Srv("mmCC"), "US")
	rec.QueryString += "&tz=America/New_York&lang=en-US&fonts=Arial&numFmt=1,234.56&voices=Alex"

	out := Cultural(rec)
	score, _ := record.LookupParam(out.QueryString, record.Srv("culturalScore"))
	if score != "100" {
		t.Errorf("expected culturalScore=100, got %q", score)
	}
}

func TestCultural_TimezoneMismatchSubtractsWeight(t *testing.T) {
	rec := record.TrackingRecord{}.AppendEnrichment(record.Srv("mmCC"), "US")
	rec.QueryString += "&tz=Europe/Berlin"

	out := Cultural(rec)
	score, _ := record.LookupParam(out.QueryString, record.Srv("culturalScore"))
	if score != "70" {
		t.Errorf("expected culturalScore=70 after tz mismatch, got %q", score)
	}
	flags, _ := record.LookupParam(out.QueryString, record.Srv("culturalFlags"))
	if flags != "tz" {
		t.Errorf("expected culturalFlags=tz, got %q", flags)
	}
}

func TestCultural_NoCountryResolvedSkipsScoring(t *testing.T) {
	out := Cultural(record.TrackingRecord{})
	if out.QueryString != "" {
		t.Errorf("expected no enrichment without a resolved country, got %q", out.QueryString)
	}
}

func TestCultural_ScoreNeverNegative(t *testing.T) {
	rec := record.TrackingRecord{}.AppendEnrichment(record.Srv("mmCC"), "US")
	rec.QueryString += "&tz=Europe/Berlin&lang=de-DE&fonts=&numFmt=1 234,56&voices="

	out := Cultural(rec)
	score, _ := record.LookupParam(out.QueryString, record.Srv("culturalScore"))
	if score != "0" {
		t.Errorf("expected culturalScore floored at 0, got %q", score)
	}
}
