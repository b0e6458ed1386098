// Package tunnel exposes a local port publicly through either a hosted tunnel
// service or an SSH reverse-forward subprocess.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"

	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/log"
)

// SetupError reports a failed provisioning attempt. It matches
// [domain.ErrTunnelSetup] under errors.Is.
type SetupError struct {
	Kind domain.TunnelKind
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s tunnel setup: %v", e.Kind, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func (e *SetupError) Is(target error) bool { return target == domain.ErrTunnelSetup }

func setupErr(kind domain.TunnelKind, err error) error {
	return &SetupError{Kind: kind, Err: err}
}

// Session is a live tunnel. Done closes when the tunnel ends, either through
// Teardown or because the provider failed; Err then reports the failure.
type Session struct {
	PublicURL string
	Kind      domain.TunnelKind

	teardown     func() error
	teardownOnce sync.Once
	teardownErr  error

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func newSession(kind domain.TunnelKind, publicURL string) *Session {
	return &Session{PublicURL: publicURL, Kind: kind, done: make(chan struct{})}
}

// URL returns the public URL.
func (s *Session) URL() string {
	return s.PublicURL
}

// Done is closed once the tunnel has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the provider failure that ended the session, or nil when the
// session is still running or was torn down deliberately.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Teardown closes the tunnel. It is safe to call more than once and on a nil
// session.
func (s *Session) Teardown() error {
	if s == nil {
		return nil
	}
	s.teardownOnce.Do(func() {
		if s.teardown != nil {
			s.teardownErr = s.teardown()
		}
		s.finish(nil)
	})
	return s.teardownErr
}

func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

// HostedOptions configures the hosted tunnel strategy.
type HostedOptions struct {
	ServerURL string
	APIKey    string
	Name      string
	Version   string
	// HTTPClient performs the registration call. Defaults to a client with a
	// 30s timeout.
	HTTPClient *http.Client
}

// SSHOptions configures the SSH reverse-forward strategy.
type SSHOptions struct {
	Host    string
	KeyPath string
	KeyBits int
	// Command builds the subprocess; tests substitute a helper binary.
	Command func(name string, args ...string) *exec.Cmd
}

// Options configures a [Provisioner].
type Options struct {
	Hosted HostedOptions
	SSH    SSHOptions
	Logger *slog.Logger
}

type strategy interface {
	start(ctx context.Context, localPort int) (*Session, error)
}

// Provisioner opens tunnels using the configured strategies.
type Provisioner struct {
	hosted strategy
	ssh    strategy
}

// NewProvisioner builds a provisioner. Both strategies are constructed
// eagerly; a hosted strategy without a server URL fails on use.
func NewProvisioner(opts Options) *Provisioner {
	logger := log.OrDefault(opts.Logger)
	return &Provisioner{
		hosted: newHostedClient(opts.Hosted, logger),
		ssh:    newSSHTunnel(opts.SSH, logger),
	}
}

// Provision opens a tunnel of the given kind to localPort. Failures are
// returned as [*SetupError] and are not retried.
func (p *Provisioner) Provision(ctx context.Context, kind domain.TunnelKind, localPort int) (*Session, error) {
	if localPort <= 0 || localPort > 65535 {
		return nil, setupErr(kind, fmt.Errorf("invalid local port %d", localPort))
	}
	switch kind {
	case domain.TunnelHosted:
		return p.hosted.start(ctx, localPort)
	case domain.TunnelSSHReverse:
		return p.ssh.start(ctx, localPort)
	default:
		return nil, setupErr(kind, errors.New("unknown tunnel kind"))
	}
}
