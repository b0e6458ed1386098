// Package agentsync drives a dev session: it exposes the local agent,
// authenticates, registers the plugin, keeps it in sync with file changes
// and tears everything down on exit.
package agentsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitteprotocol/make-agent/internal/auth"
	"github.com/bitteprotocol/make-agent/internal/config"
	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/netutil"
	"github.com/bitteprotocol/make-agent/internal/pluginspec"
	"github.com/bitteprotocol/make-agent/internal/retry"
	"github.com/bitteprotocol/make-agent/internal/watch"
)

const cleanupTimeout = 15 * time.Second

// errTunnelClosed stands in when a tunnel ends without reporting why.
var errTunnelClosed = errors.New("tunnel closed unexpectedly")

// Session is a live tunnel.
type Session interface {
	URL() string
	Done() <-chan struct{}
	Err() error
	Teardown() error
}

// ProvisionFunc opens a tunnel to localPort.
type ProvisionFunc func(ctx context.Context, kind domain.TunnelKind, localPort int) (Session, error)

// Authenticator hands out credentials.
type Authenticator interface {
	Cached(ctx context.Context, accountID string) (auth.Credential, bool, error)
	Authenticate(ctx context.Context, accountID string) (auth.Credential, error)
}

// Registry manages the remote plugin entry.
type Registry interface {
	Register(ctx context.Context, pluginID, accountID string) (string, error)
	Update(ctx context.Context, pluginID, accountID string) error
	Delete(ctx context.Context, pluginID string) error
}

// Validator checks the published manifest.
type Validator interface {
	Validate(ctx context.Context, specURL string) (pluginspec.Result, error)
}

// SessionStore persists the session snapshot.
type SessionStore interface {
	Merge(ctx context.Context, patch domain.SessionPatch) (domain.SessionState, error)
	Remove(ctx context.Context) error
}

// Changes delivers batches of file changes until ctx is done.
type Changes interface {
	Run(ctx context.Context, handle watch.Handler) error
}

// Config holds the session parameters.
type Config struct {
	TunnelKind domain.TunnelKind
	LocalPort  int
	// PlaygroundURL is the prefix the plugin id is appended to.
	PlaygroundURL string
	// SettleDelay is waited after provisioning so the public URL resolves.
	SettleDelay time.Duration
}

// Deps are the collaborators of an [Orchestrator].
type Deps struct {
	Provision ProvisionFunc
	Auth      Authenticator
	Registry  Registry
	Validator Validator
	Sessions  SessionStore
	Changes   Changes
	Open      func(url string) error
	Logger    *slog.Logger
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs one dev session. It is single use.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	session   Session
	publicURL string
	pluginID  string

	cleanupOnce sync.Once
	exitCode    int
}

// New builds an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if deps.Open == nil {
		deps.Open = func(string) error { return nil }
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: log.OrDefault(deps.Logger)}
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev != s {
		o.log.Debug("state transition", "from", prev.String(), "to", s.String())
	}
}

// PluginID returns the plugin id once the tunnel is up.
func (o *Orchestrator) PluginID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pluginID
}

// Run executes the session and returns the process exit code: 0 when ctx
// was cancelled (a termination signal), 1 after an unrecoverable failure.
func (o *Orchestrator) Run(ctx context.Context) int {
	o.setState(StateProvisioning)
	o.log.Info("starting tunnel", "kind", string(o.cfg.TunnelKind), "local_port", o.cfg.LocalPort)
	sess, err := o.deps.Provision(ctx, o.cfg.TunnelKind, o.cfg.LocalPort)
	if err != nil {
		return o.stop(ctx, err)
	}
	publicURL := sess.URL()
	pluginID, err := netutil.PluginID(publicURL)
	o.mu.Lock()
	o.session = sess
	o.publicURL = publicURL
	o.pluginID = pluginID
	o.mu.Unlock()
	if err != nil {
		return o.stop(ctx, err)
	}
	o.log.Info("agent exposed", "url", publicURL, "plugin_id", pluginID)
	if _, err := o.deps.Sessions.Merge(ctx, domain.SessionPatch{URL: domain.Ptr(publicURL)}); err != nil {
		o.log.Warn("failed to persist session url", "err", err)
	}
	if err := o.deps.Sleep(ctx, o.cfg.SettleDelay); err != nil {
		return o.stop(ctx, nil)
	}

	o.setState(StateAuthenticating)
	if _, err := o.deps.Auth.Authenticate(ctx, ""); err != nil {
		if ctx.Err() != nil {
			return o.stop(ctx, nil)
		}
		o.log.Warn("authentication failed; continuing", "err", err)
	}

	o.setState(StateValidating)
	if accountID, ok := o.validate(ctx); ok {
		o.register(ctx, accountID)
	} else if ctx.Err() == nil {
		o.log.Info("initial registration skipped; waiting for file changes")
		o.setState(StateWatching)
	}
	if ctx.Err() != nil {
		return o.stop(ctx, nil)
	}

	return o.watchLoop(ctx, sess)
}

func (o *Orchestrator) watchLoop(ctx context.Context, sess Session) int {
	if o.State() != StateRetrying {
		o.setState(StateWatching)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	watchErr := make(chan error, 1)
	go func() { watchErr <- o.deps.Changes.Run(watchCtx, o.handleChange) }()

	var cause error
	select {
	case <-ctx.Done():
	case <-sess.Done():
		cause = sess.Err()
		if cause == nil {
			cause = errTunnelClosed
		}
		cause = fmt.Errorf("tunnel lost: %w", cause)
	case err := <-watchErr:
		watchErr <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			cause = fmt.Errorf("file watcher: %w", err)
		} else if ctx.Err() == nil {
			cause = errors.New("file watcher stopped")
		}
	}
	cancel()
	<-watchErr
	return o.stop(ctx, cause)
}

func (o *Orchestrator) stop(ctx context.Context, cause error) int {
	if cause != nil && ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		cause = nil
	}
	if cause != nil {
		o.log.Error("dev session failed", "err", cause)
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	return o.Cleanup(cleanupCtx, cause)
}

// handleChange re-validates and pushes the manifest after file changes.
func (o *Orchestrator) handleChange(ctx context.Context, events []watch.Event) {
	if len(events) == 0 {
		return
	}
	o.log.Info("change detected", "path", events[0].Path, "count", len(events))
	accountID, ok := o.validate(ctx)
	if !ok {
		return
	}
	pluginID := o.PluginID()
	if _, cached, err := o.deps.Auth.Cached(ctx, accountID); err == nil && cached {
		o.setState(StateRegistering)
		if err := o.deps.Registry.Update(ctx, pluginID, accountID); err != nil {
			o.log.Error("plugin update failed; will retry on next change", "plugin_id", pluginID, "err", err)
			o.setState(StateRetrying)
			return
		}
		o.setState(StateWatching)
		return
	}
	o.register(ctx, accountID)
}

// validate reports the manifest's account id when the manifest is usable.
func (o *Orchestrator) validate(ctx context.Context) (string, bool) {
	o.mu.Lock()
	specURL := config.SpecURL(o.publicURL)
	o.mu.Unlock()

	res, err := o.deps.Validator.Validate(ctx, specURL)
	if err != nil {
		o.log.Error("plugin spec unavailable", "url", specURL, "err", err)
		return "", false
	}
	if !res.Valid {
		o.log.Error("plugin spec invalid", "url", specURL, "problems", res.Problems)
		return "", false
	}
	if res.AccountID == "" {
		o.log.Error("plugin spec has no x-mb.account-id", "url", specURL)
		return "", false
	}
	return res.AccountID, true
}

func (o *Orchestrator) register(ctx context.Context, accountID string) {
	o.setState(StateRegistering)
	pluginID := o.PluginID()
	id, err := o.deps.Registry.Register(ctx, pluginID, accountID)
	if err != nil {
		if ctx.Err() == nil {
			o.log.Error("plugin registration failed; will retry on next change", "plugin_id", pluginID, "err", err)
			o.setState(StateRetrying)
		}
		return
	}

	playground := o.cfg.PlaygroundURL + id
	o.log.Info("opening playground", "url", playground)
	if err := o.deps.Open(playground); err != nil {
		o.log.Warn("failed to open playground", "url", playground, "err", err)
	}
	if _, err := o.deps.Sessions.Merge(ctx, domain.SessionPatch{PluginID: domain.Ptr(id), ReceivedID: domain.Ptr("")}); err != nil {
		o.log.Warn("failed to persist plugin id", "err", err)
	}
	o.setState(StateWatching)
}

// Cleanup removes the session entry, deletes the plugin, tears the tunnel
// down and returns the exit code: 0 when cause is nil, 1 otherwise. Each
// step is best effort. Only the first call does any work; later calls
// return the same code.
func (o *Orchestrator) Cleanup(ctx context.Context, cause error) int {
	o.cleanupOnce.Do(func() {
		o.setState(StateCleaningUp)
		o.log.Info("cleaning up")

		if err := o.deps.Sessions.Remove(ctx); err != nil {
			o.log.Warn("failed to remove session state", "err", err)
		}

		o.mu.Lock()
		pluginID, sess := o.pluginID, o.session
		o.mu.Unlock()

		if pluginID != "" {
			if err := o.deps.Registry.Delete(ctx, pluginID); err != nil {
				o.log.Warn("failed to delete plugin", "plugin_id", pluginID, "err", err)
			}
		}
		if sess != nil {
			if err := sess.Teardown(); err != nil {
				o.log.Warn("tunnel teardown failed", "err", err)
			}
		}

		if cause != nil {
			o.exitCode = 1
		}
		o.setState(StateTerminated)
		o.log.Info("dev session ended", "exit_code", o.exitCode)
	})
	return o.exitCode
}
