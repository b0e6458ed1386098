package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bitteprotocol/make-agent/internal/agentsync"
	"github.com/bitteprotocol/make-agent/internal/browser"
	"github.com/bitteprotocol/make-agent/internal/config"
	ilog "github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/pluginspec"
	"github.com/bitteprotocol/make-agent/internal/state"
	"github.com/bitteprotocol/make-agent/internal/tunnel"
	"github.com/bitteprotocol/make-agent/internal/watch"
)

func runDev(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := config.ParseDevFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, "dev command error:", err)
		return 2
	}
	logger := ilog.NewWithWriter(stderr, cfg.LogLevel)

	kv, closeKV, err := openState(cfg.RegistryConfig)
	if err != nil {
		logger.Error("state backend unavailable", "backend", cfg.StateBackend, "err", err)
		return 1
	}
	defer closeKV()

	watcher, err := watch.New(watch.Options{
		Root:     cfg.Dir,
		Debounce: cfg.Debounce,
		Ignore:   watch.NewIgnore(watchedStateFiles(cfg.RegistryConfig)...),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("file watcher failed to start", "dir", cfg.Dir, "err", err)
		return 1
	}
	defer func() { _ = watcher.Close() }()

	urls := cfg.URLs()
	hc := &http.Client{Timeout: cfg.Timeout}
	broker := newBroker(kv, urls, logger)
	prov := tunnel.NewProvisioner(tunnel.Options{
		Hosted: tunnel.HostedOptions{
			ServerURL:  cfg.TunnelServer,
			APIKey:     cfg.TunnelAPIKey,
			Name:       cfg.TunnelName,
			Version:    Version,
			HTTPClient: hc,
		},
		SSH: tunnel.SSHOptions{
			Host:    cfg.SSHHost,
			KeyPath: cfg.SSHKeyPath,
		},
		Logger: logger,
	})

	orch := agentsync.New(agentsync.Config{
		TunnelKind:    cfg.Tunnel,
		LocalPort:     cfg.Port,
		PlaygroundURL: urls.Playground,
		SettleDelay:   cfg.SettleDelay,
	}, agentsync.Deps{
		Provision: provisioner(prov),
		Auth:      broker,
		Registry:  newRegistry(broker, urls, hc, logger),
		Validator: pluginspec.NewValidator(pluginspec.Options{HTTPClient: hc, Logger: logger}),
		Sessions:  state.NewSessions(kv),
		Changes:   watcher,
		Open:      browser.Open,
		Logger:    logger,
	})
	return orch.Run(ctx)
}
