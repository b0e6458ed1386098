package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrTunnelSetup means no public URL could be obtained. Nothing else in
	// a dev session can proceed without one.
	ErrTunnelSetup = errors.New("tunnel setup failed")

	// ErrBrowserLaunch is returned when the system browser could not be
	// opened for the signing handshake.
	ErrBrowserLaunch = errors.New("browser launch failed")

	// ErrNonceTooLong is returned when a decoded nonce exceeds 32 bytes.
	ErrNonceTooLong = errors.New("nonce longer than 32 bytes")

	// ErrMalformedCredential indicates a credential that is structurally
	// invalid (missing fields, bad base64, bad public key).
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrNoCredential means no cached credential matches the request.
	ErrNoCredential = errors.New("no credential, register first")

	// ErrNetworkFailure is a transport-level failure (DNS, refused, timeout)
	// that persisted through every retry attempt.
	ErrNetworkFailure = errors.New("network failure")

	// ErrRegistryRejected is an application-level 4xx/5xx answer from the
	// plugin registry. It is never retried.
	ErrRegistryRejected = errors.New("registry rejected request")

	// ErrSpecInvalid means the published plugin spec failed validation or
	// carries no account id.
	ErrSpecInvalid = errors.New("plugin spec invalid")

	// ErrPortInUse is returned when the handshake listener port is taken,
	// including by another handshake of this process.
	ErrPortInUse = errors.New("handshake port in use")

	// ErrHandshakeRejected means the callback listener received a request
	// that aborts the handshake (bad JSON, wrong method).
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// OpError wraps an underlying error with operation and plugin context.
type OpError struct {
	Op       string
	PluginID string
	Err      error
}

func (e *OpError) Error() string {
	if e.PluginID != "" {
		return fmt.Sprintf("plugin %s: %s: %v", e.PluginID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
