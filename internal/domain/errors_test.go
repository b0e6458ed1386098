package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestOpErrorMessage(t *testing.T) {
	t.Parallel()

	err := &OpError{PluginID: "abc.example.test", Op: "update", Err: ErrNoCredential}
	want := "plugin abc.example.test: update: no credential, register first"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestOpErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &OpError{PluginID: "abc.example.test", Op: "register", Err: ErrRegistryRejected}
	if !errors.Is(err, ErrRegistryRejected) {
		t.Fatal("expected errors.Is to match ErrRegistryRejected")
	}
}

func TestOpErrorWithoutPluginID(t *testing.T) {
	t.Parallel()

	err := &OpError{Op: "provision", Err: ErrTunnelSetup}
	want := "provision: tunnel setup failed"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
	}{
		{"tunnel setup", ErrTunnelSetup},
		{"browser launch", ErrBrowserLaunch},
		{"nonce too long", ErrNonceTooLong},
		{"malformed credential", ErrMalformedCredential},
		{"no credential", ErrNoCredential},
		{"network failure", ErrNetworkFailure},
		{"registry rejected", ErrRegistryRejected},
		{"spec invalid", ErrSpecInvalid},
		{"port in use", ErrPortInUse},
		{"handshake rejected", ErrHandshakeRejected},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("context: %w", tc.err)
		if !errors.Is(wrapped, tc.err) {
			t.Fatalf("%s: wrapped sentinel not matched", tc.name)
		}
	}
}
