package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/bitteprotocol/make-agent/internal/agentsync"
	"github.com/bitteprotocol/make-agent/internal/auth"
	"github.com/bitteprotocol/make-agent/internal/browser"
	"github.com/bitteprotocol/make-agent/internal/config"
	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/registry"
	"github.com/bitteprotocol/make-agent/internal/state"
	"github.com/bitteprotocol/make-agent/internal/store/envfile"
	"github.com/bitteprotocol/make-agent/internal/store/sqlite"
	"github.com/bitteprotocol/make-agent/internal/tunnel"
)

// openState opens the configured KV backend. Env files live in cfg.Dir, and
// a relative sqlite path is resolved against it.
func openState(cfg config.RegistryConfig) (state.KV, func(), error) {
	switch cfg.StateBackend {
	case config.StateMemory:
		return state.NewMemoryKV(nil), func() {}, nil
	case config.StateSQLite:
		store, err := sqlite.Open(statePath(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("open state db: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return envfile.New(cfg.Dir), func() {}, nil
	}
}

func statePath(cfg config.RegistryConfig) string {
	if filepath.IsAbs(cfg.StatePath) {
		return cfg.StatePath
	}
	return filepath.Join(cfg.Dir, cfg.StatePath)
}

// watchedStateFiles lists state files under cfg.Dir the watcher must not
// react to.
func watchedStateFiles(cfg config.RegistryConfig) []string {
	if cfg.StateBackend != config.StateSQLite {
		return nil
	}
	absDir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil
	}
	absPath, err := filepath.Abs(statePath(cfg))
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return nil
	}
	return []string{rel}
}

func newBroker(kv state.KV, urls config.NetworkURLs, logger *slog.Logger) *auth.Broker {
	return auth.NewBroker(kv, auth.BrokerOptions{
		SignURL:    urls.SignMessage,
		SuccessURL: urls.SignSuccess,
		Open:       browser.Open,
		Logger:     logger,
	})
}

func newRegistry(creds registry.Credentials, urls config.NetworkURLs, hc *http.Client, logger *slog.Logger) *registry.Client {
	return registry.New(creds, registry.Options{
		BaseURL:    urls.Registry,
		HTTPClient: hc,
		Logger:     logger,
	})
}

// provisioner adapts [tunnel.Provisioner] to [agentsync.ProvisionFunc].
func provisioner(p *tunnel.Provisioner) agentsync.ProvisionFunc {
	return func(ctx context.Context, kind domain.TunnelKind, localPort int) (agentsync.Session, error) {
		sess, err := p.Provision(ctx, kind, localPort)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}
