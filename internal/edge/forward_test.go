package edge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/ipc"
	"github.com/signalcove/pixelwatch/internal/record"
	"github.com/signalcove/pixelwatch/internal/spool"
)

type fakeDirectInserter struct {
	called bool
	err    error
}

func (f *fakeDirectInserter) InsertRaw(ctx context.Context, rec record.TrackingRecord) error {
	f.called = true
	return f.err
}

func TestForwarder_FallsBackToSpoolWhenIPCUnavailable(t *testing.T) {
	dir := t.TempDir()
	sw, err := spool.NewWriter(dir, 1024*1024)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer sw.Close()

	// No listener is running on this socket path, so every Send fails fast.
	client := ipc.NewClient(filepath.Join(dir, "nonexistent.sock"), 50*time.Millisecond)
	direct := &fakeDirectInserter{}

	fwd := NewForwarder(client, sw, direct, zap.NewNop())
	if err := fwd.Forward(context.Background(), record.TrackingRecord{CompanyID: "1"}); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if direct.called {
		t.Error("expected direct inserter to not be used once spool succeeded")
	}
}

func TestForwarder_FallsBackToDirectWhenIPCAndSpoolFail(t *testing.T) {
	dir := t.TempDir()
	sw, err := spool.NewWriter(dir, 1024*1024)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	sw.Close() // subsequent Append calls now fail

	client := ipc.NewClient(filepath.Join(dir, "nonexistent.sock"), 50*time.Millisecond)
	direct := &fakeDirectInserter{}

	fwd := NewForwarder(client, sw, direct, zap.NewNop())
	if err := fwd.Forward(context.Background(), record.TrackingRecord{CompanyID: "1"}); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !direct.called {
		t.Error("expected direct inserter to be used once ipc and spool both failed")
	}
}

func TestForwarder_ReturnsErrorWhenAllTiersFail(t *testing.T) {
	dir := t.TempDir()
	sw, err := spool.NewWriter(dir, 1024*1024)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	sw.Close()

	client := ipc.NewClient(filepath.Join(dir, "nonexistent.sock"), 50*time.Millisecond)
	direct := &fakeDirectInserter{err: errors.New("db unreachable")}

	fwd := NewForwarder(client, sw, direct, zap.NewNop())
	if err := fwd.Forward(context.Background(), record.TrackingRecord{CompanyID: "1"}); err == nil {
		t.Fatal("expected error when all tiers fail")
	}
}

func TestForwarder_ReturnsErrorWithNoDirectInserterConfigured(t *testing.T) {
	dir := t.TempDir()
	sw, err := spool.NewWriter(dir, 1024*1024)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	sw.Close()

	client := ipc.NewClient(filepath.Join(dir, "nonexistent.sock"), 50*time.Millisecond)

	fwd := NewForwarder(client, sw, nil, zap.NewNop())
	if err := fwd.Forward(context.Background(), record.TrackingRecord{CompanyID: "1"}); err == nil {
		t.Fatal("expected error when spool fails and no direct inserter is configured")
	}
}
