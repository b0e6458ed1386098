package netutil

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM:443":         "example.com",
		" abc123.serveo.net. ":    "abc123.serveo.net",
		"[2001:db8::1]:8443":      "2001:db8::1",
		"localhost:10443":         "localhost",
		"Agent.Tunnel.EXAMPLE.io": "agent.tunnel.example.io",
	}

	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestPluginID(t *testing.T) {
	t.Parallel()

	got, err := PluginID("https://ABC123.serveo.net/some/path")
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc123.serveo.net" {
		t.Fatalf("unexpected plugin id %q", got)
	}

	for _, bad := range []string{"", "ftp://x.test", "https://", "::not a url"} {
		if _, err := PluginID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestLocalURL(t *testing.T) {
	t.Parallel()

	if got := LocalURL(3000); got != "http://127.0.0.1:3000" {
		t.Fatalf("got %q", got)
	}
}

func TestIsAddrInUse(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = net.Listen("tcp", ln.Addr().String())
	if err == nil {
		t.Fatal("expected second bind to fail")
	}
	if !IsAddrInUse(err) {
		t.Fatalf("expected address-in-use, got %v", err)
	}
	if !IsAddrInUse(fmt.Errorf("wrapped: %w", syscall.EADDRINUSE)) {
		t.Fatal("expected wrapped errno to match")
	}
	if IsAddrInUse(errors.New("other")) {
		t.Fatal("unexpected match")
	}
}

func TestRemoveHopByHopHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{
		"Connection":        {"keep-alive, upgrade, X-Internal-Hop"},
		"Keep-Alive":        {"timeout=5"},
		"Proxy-Connection":  {"keep-alive"},
		"Transfer-Encoding": {"chunked"},
		"Upgrade":           {"websocket"},
		"X-Internal-Hop":    {"drop-me"},
		"X-Keep":            {"keep-me"},
	}

	RemoveHopByHopHeaders(h)

	for _, key := range []string{"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade", "X-Internal-Hop"} {
		if got := h.Get(key); got != "" {
			t.Fatalf("expected %s to be removed, got %q", key, got)
		}
	}
	if got := h.Get("X-Keep"); got != "keep-me" {
		t.Fatalf("expected X-Keep to be preserved, got %q", got)
	}
}
