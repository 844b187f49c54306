package edge

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/ipc"
	"github.com/signalcove/pixelwatch/internal/spool"
)

type stubCollector struct{ body []byte }

func (s stubCollector) Script(company, pixel string) []byte { return s.body }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	sw, err := spool.NewWriter(dir, 1024*1024)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	t.Cleanup(func() { sw.Close() })

	client := ipc.NewClient(filepath.Join(dir, "nonexistent.sock"), 20*time.Millisecond)
	fwd := NewForwarder(client, sw, nil, zap.NewNop())
	set := NewDatacenterSet(nil)

	return NewServer(fwd, set, stubCollector{body: []byte("console.log('x')")}, nil, zap.NewNop())
}

func TestHandlePixel_HappyPathReturnsGIF(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/42/1_SMART.GIF?sw=1920&sh=1080", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("Content-Type = %q, want image/gif", ct)
	}
	if len(rec.Body.Bytes()) != 43 {
		t.Errorf("body length = %d, want 43", len(rec.Body.Bytes()))
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestHandlePixel_CaseInsensitiveSuffix(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/42/1_smart.gif", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandlePixel_InvalidPathReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/not-a-pixel-path", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePixel_SecurityHeadersPresent(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/42/1_SMART.GIF", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS allow-origin *")
	}
}

func TestHandleScript_ValidPath(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/js/42/1.js", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/javascript" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != "console.log('x')" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandleScript_InvalidSegmentReturns400(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/js/bad!company/1.js", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleHealth_ReportsQueueDepth(t *testing.T) {
	dir := t.TempDir()
	sw, _ := spool.NewWriter(dir, 1024*1024)
	defer sw.Close()
	client := ipc.NewClient(filepath.Join(dir, "nonexistent.sock"), 20*time.Millisecond)
	fwd := NewForwarder(client, sw, nil, zap.NewNop())

	srv := NewServer(fwd, NewDatacenterSet(nil), stubCollector{}, func() int { return 42 }, zap.NewNop())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"queueDepth":42`) {
		t.Errorf("expected queueDepth=42 in body, got %s", rec.Body.String())
	}
}
