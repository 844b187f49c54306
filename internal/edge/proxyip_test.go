package edge

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP_PrefersCFConnectingIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("CF-Connecting-IP", "1.1.1.1")
	r.Header.Set("X-Forwarded-For", "2.2.2.2, 3.3.3.3")
	r.RemoteAddr = "9.9.9.9:1234"

	if got := ClientIP(r); got != "1.1.1.1" {
		t.Errorf("ClientIP = %q, want 1.1.1.1", got)
	}
}

func TestClientIP_FallsBackThroughPriorityChain(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "4.4.4.4")
	r.Header.Set("X-Forwarded-For", "2.2.2.2, 3.3.3.3")

	if got := ClientIP(r); got != "4.4.4.4" {
		t.Errorf("ClientIP = %q, want 4.4.4.4", got)
	}
}

func TestClientIP_UsesFirstXForwardedForToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "2.2.2.2, 3.3.3.3")

	if got := ClientIP(r); got != "2.2.2.2" {
		t.Errorf("ClientIP = %q, want 2.2.2.2", got)
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "9.9.9.9:1234"

	if got := ClientIP(r); got != "9.9.9.9" {
		t.Errorf("ClientIP = %q, want 9.9.9.9", got)
	}
}

func TestClientIP_RemoteAddrIPv6(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[::1]:1234"

	if got := ClientIP(r); got != "::1" {
		t.Errorf("ClientIP = %q, want ::1", got)
	}
}
