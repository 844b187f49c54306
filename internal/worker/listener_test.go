package worker

import (
	"testing"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestNewReplayHandler_ForwardsToChannel(t *testing.T) {
	ch := make(chan record.TrackingRecord, 1)
	handler := NewReplayHandler(ch)

	if err := handler(record.TrackingRecord{CompanyID: "acme"}); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	select {
	case rec := <-ch:
		if rec.CompanyID != "acme" {
			t.Fatalf("expected CompanyID acme, got %q", rec.CompanyID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record on channel")
	}
}
