package enrich

import (
	"testing"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestSessionTracker_FirstHitStartsSession(t *testing.T) {
	st := NewSessionTracker()
	now := time.Now()

	out := st.Session(record.TrackingRecord{RequestPath: "/a"}, "device-1", now)

	num, _ := record.LookupParam(out.QueryString, record.Srv("sessionHitNum"))
	if num != "1" {
		t.Errorf("expected sessionHitNum=1, got %q", num)
	}
}

func TestSessionTracker_WithinBoundaryContinuesSession(t *testing.T) {
	st := NewSessionTracker()
	now := time.Now()

	first := st.Session(record.TrackingRecord{RequestPath: "/a"}, "device-1", now)
	second := st.Session(record.TrackingRecord{RequestPath: "/b"}, "device-1", now.Add(5*time.Minute))

	id1, _ := record.LookupParam(first.QueryString, record.Srv("sessionId"))
	id2, _ := record.LookupParam(second.QueryString, record.Srv("sessionId"))
	if id1 != id2 {
		t.Errorf("expected same session id, got %q vs %q", id1, id2)
	}
	num, _ := record.LookupParam(second.QueryString, record.Srv("sessionHitNum"))
	if num != "2" {
		t.Errorf("expected sessionHitNum=2, got %q", num)
	}
	pages, _ := record.LookupParam(second.QueryString, record.Srv("sessionPages"))
	if pages != "2" {
		t.Errorf("expected sessionPages=2, got %q", pages)
	}
}

func TestSessionTracker_PastBoundaryStartsNewSession(t *testing.T) {
	st := NewSessionTracker()
	now := time.Now()

	first := st.Session(record.TrackingRecord{}, "device-1", now)
	second := st.Session(record.TrackingRecord{}, "device-1", now.Add(SessionBoundary+time.Minute))

	id1, _ := record.LookupParam(first.QueryString, record.Srv("sessionId"))
	id2, _ := record.LookupParam(second.QueryString, record.Srv("sessionId"))
	if id1 == id2 {
		t.Error("expected a new session id after the inactivity boundary")
	}
	num, _ := record.LookupParam(second.QueryString, record.Srv("sessionHitNum"))
	if num != "1" {
		t.Errorf("expected sessionHitNum reset to 1, got %q", num)
	}
}

func TestSessionTracker_EmptyDeviceHashIsNoop(t *testing.T) {
	st := NewSessionTracker()
	out := st.Session(record.TrackingRecord{}, "", time.Now())
	if out.QueryString != "" {
		t.Errorf("expected no enrichment for empty device hash, got %q", out.QueryString)
	}
}

func TestSessionTracker_SweepDropsInactiveSessions(t *testing.T) {
	st := NewSessionTracker()
	now := time.Now()
	st.Session(record.TrackingRecord{}, "device-1", now)

	dropped := st.Sweep(now.Add(SessionBoundary + time.Minute))
	if dropped != 1 {
		t.Errorf("expected 1 dropped session, got %d", dropped)
	}
}
