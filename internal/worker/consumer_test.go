package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestRunConsumer_ForwardsEnrichedRecord(t *testing.T) {
	enrichCh := make(chan record.TrackingRecord, 1)
	writerCh := make(chan record.TrackingRecord, 1)
	p := testPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunConsumer(ctx, enrichCh, writerCh, p, zap.NewNop())
		close(done)
	}()

	enrichCh <- record.TrackingRecord{CompanyID: "acme", UserAgent: "Mozilla/5.0"}

	select {
	case out := <-writerCh:
		if out.CompanyID != "acme" {
			t.Fatalf("expected CompanyID acme, got %q", out.CompanyID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enriched record on writer channel")
	}

	cancel()
	close(enrichCh)
	<-done
}

func TestRunConsumer_DropsWhenWriterChannelFull(t *testing.T) {
	enrichCh := make(chan record.TrackingRecord, 2)
	writerCh := make(chan record.TrackingRecord) // unbuffered, nothing reads it
	p := testPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunConsumer(ctx, enrichCh, writerCh, p, zap.NewNop())
		close(done)
	}()

	enrichCh <- record.TrackingRecord{CompanyID: "acme"}

	// Give the consumer a moment to process and drop (non-blocking offer
	// against an unread channel never succeeds).
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(enrichCh)
	<-done
}
