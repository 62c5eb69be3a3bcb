package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:52100"

	if ip := ClientIP(r, false); ip != "203.0.113.7" {
		t.Errorf("ip = %q, want 203.0.113.7", ip)
	}
}

func TestClientIPIgnoresHeadersWithoutProxy(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:52100"
	r.Header.Set("X-Forwarded-For", "198.51.100.4")

	if ip := ClientIP(r, false); ip != "203.0.113.7" {
		t.Errorf("ip = %q, want RemoteAddr when proxy not trusted", ip)
	}
}

func TestClientIPTrustsProxyHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:52100"
	r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")

	if ip := ClientIP(r, true); ip != "198.51.100.4" {
		t.Errorf("ip = %q, want first X-Forwarded-For entry", ip)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:52100"
	r.Header.Set("X-Real-IP", "198.51.100.9")

	if ip := ClientIP(r, true); ip != "198.51.100.9" {
		t.Errorf("ip = %q, want X-Real-IP", ip)
	}
}
