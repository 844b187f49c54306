package ipc

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestNetworkFor(t *testing.T) {
	cases := map[string]string{
		"/tmp/ipc.sock":  "unix",
		"./ipc.sock":     "unix",
		"127.0.0.1:9000": "tcp",
		":9000":          "tcp",
	}
	for addr, want := range cases {
		got, _ := networkFor(addr)
		if got != want {
			t.Errorf("networkFor(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestServer_AcceptsAndDecodesRecord(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ipc.sock")
	logger := zap.NewNop()
	srv := NewServer(sockPath, 2, 10, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	rec := record.TrackingRecord{CompanyID: "42", PixelID: "1", IPAddress: "1.2.3.4"}
	line, _ := json.Marshal(rec)
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case got := <-srv.Records:
		if got.CompanyID != "42" || got.IPAddress != "1.2.3.4" {
			t.Errorf("unexpected record: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
	}
}

func TestServer_MalformedLineSkippedNotFatal(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ipc.sock")
	logger := zap.NewNop()
	srv := NewServer(sockPath, 1, 10, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("{not json}\n"))

	good := record.TrackingRecord{CompanyID: "1"}
	line, _ := json.Marshal(good)
	conn.Write(append(line, '\n'))

	select {
	case got := <-srv.Records:
		if got.CompanyID != "1" {
			t.Errorf("expected the valid record after the malformed one, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
	}

	time.Sleep(50 * time.Millisecond)
	if srv.MalformedCount() != 1 {
		t.Errorf("expected 1 malformed line counted, got %d", srv.MalformedCount())
	}
}

func TestServer_ReadyBeforeAndAfterStart(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ipc.sock")
	srv := NewServer(sockPath, 1, 10, zap.NewNop())

	if err := srv.Ready(); err == nil {
		t.Error("expected not-ready before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	if err := srv.Ready(); err != nil {
		t.Errorf("expected ready after Start, got %v", err)
	}
}

func TestClientServer_RoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ipc.sock")
	srv := NewServer(sockPath, 4, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	client := NewClient(sockPath, time.Second)
	defer client.Close()

	rec := record.TrackingRecord{CompanyID: "99", PixelID: "7"}
	if err := client.Send(rec); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-srv.Records:
		if got.CompanyID != "99" || got.PixelID != "7" {
			t.Errorf("unexpected record: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
	}
}
