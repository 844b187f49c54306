package enrich

import (
	"testing"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestDeadInternetTracker_KnownBotPushesIndexUp(t *testing.T) {
	tr := NewDeadInternetTracker()
	now := time.Now()

	rec := record.TrackingRecord{CompanyID: "acme"}.AppendEnrichment(record.Srv("knownBot"), "1")
	var out record.TrackingRecord
	for i := 0; i < 50; i++ {
		out = tr.DeadInternet(rec, now)
	}

	idx, ok := record.LookupInt(out.QueryString, record.Srv("deadInternetIdx"))
	if !ok {
		t.Fatal("expected deadInternetIdx to be set")
	}
	if idx < 90 {
		t.Errorf("expected index to converge near 100 after repeated bot hits, got %d", idx)
	}
}

func TestDeadInternetTracker_CleanTrafficStaysLow(t *testing.T) {
	tr := NewDeadInternetTracker()
	now := time.Now()

	rec := record.TrackingRecord{CompanyID: "acme"}
	var out record.TrackingRecord
	for i := 0; i < 10; i++ {
		out = tr.DeadInternet(rec, now)
	}

	idx, _ := record.LookupInt(out.QueryString, record.Srv("deadInternetIdx"))
	if idx != 0 {
		t.Errorf("expected index 0 for clean traffic, got %d", idx)
	}
}

func TestDeadInternetTracker_NoCompanyIsNoop(t *testing.T) {
	tr := NewDeadInternetTracker()
	out := tr.DeadInternet(record.TrackingRecord{}, time.Now())
	if out.QueryString != "" {
		t.Errorf("expected no enrichment without a CompanyID, got %q", out.QueryString)
	}
}

func TestDeadInternetTracker_SeparateCompaniesDoNotShareState(t *testing.T) {
	tr := NewDeadInternetTracker()
	now := time.Now()

	botRec := record.TrackingRecord{CompanyID: "bot-co"}.AppendEnrichment(record.Srv("knownBot"), "1")
	cleanRec := record.TrackingRecord{CompanyID: "clean-co"}

	var botOut, cleanOut record.TrackingRecord
	for i := 0; i < 30; i++ {
		botOut = tr.DeadInternet(botRec, now)
		cleanOut = tr.DeadInternet(cleanRec, now)
	}

	botIdx, _ := record.LookupInt(botOut.QueryString, record.Srv("deadInternetIdx"))
	cleanIdx, _ := record.LookupInt(cleanOut.QueryString, record.Srv("deadInternetIdx"))
	if cleanIdx >= botIdx {
		t.Errorf("expected clean-co index (%d) below bot-co index (%d)", cleanIdx, botIdx)
	}
}

func TestDeadInternetTracker_SweepDropsStaleCompanies(t *testing.T) {
	tr := NewDeadInternetTracker()
	now := time.Now()
	tr.DeadInternet(record.TrackingRecord{CompanyID: "acme"}, now)

	dropped := tr.Sweep(now.Add(48*time.Hour), 24*time.Hour)
	if dropped != 1 {
		t.Errorf("expected 1 dropped company, got %d", dropped)
	}
}
