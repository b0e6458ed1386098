package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bitteprotocol/make-agent/internal/config"
	"github.com/bitteprotocol/make-agent/internal/domain"
	ilog "github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/netutil"
	"github.com/bitteprotocol/make-agent/internal/pluginspec"
	"github.com/bitteprotocol/make-agent/internal/state"
)

// deployment is a validated agent served from a public URL.
type deployment struct {
	pluginID  string
	accountID string
	kv        state.KV
	closeKV   func()
	hc        *http.Client
	log       *slog.Logger
}

// prepareDeployment parses flags, checks the served manifest and opens state.
// It returns an exit code when the command cannot proceed.
func prepareDeployment(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (*deployment, config.DeployConfig, int) {
	cfg, err := config.ParseDeployFlags(name, args)
	if err != nil {
		fmt.Fprintf(stderr, "%s command error: %v\n", name, err)
		return nil, cfg, 2
	}
	logger := ilog.NewWithWriter(stderr, cfg.LogLevel)
	pluginID, err := netutil.PluginID(cfg.URL)
	if err != nil {
		fmt.Fprintf(stderr, "%s command error: %v\n", name, err)
		return nil, cfg, 2
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	specURL := config.SpecURL(cfg.URL)
	res, err := pluginspec.NewValidator(pluginspec.Options{HTTPClient: hc, Logger: logger}).Validate(ctx, specURL)
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", name, err)
		return nil, cfg, 1
	}
	if !res.Valid {
		fmt.Fprintln(stdout, "Invalid plugin spec at", specURL)
		for _, p := range res.Problems {
			fmt.Fprintln(stdout, "  -", p)
		}
		return nil, cfg, 1
	}

	kv, closeKV, err := openState(cfg.RegistryConfig)
	if err != nil {
		logger.Error("state backend unavailable", "backend", cfg.StateBackend, "err", err)
		return nil, cfg, 1
	}
	return &deployment{
		pluginID:  pluginID,
		accountID: res.AccountID,
		kv:        kv,
		closeKV:   closeKV,
		hc:        hc,
		log:       logger,
	}, cfg, 0
}

func runUpdate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	d, cfg, code := prepareDeployment(ctx, "update", args, stdout, stderr)
	if d == nil {
		return code
	}
	defer d.closeKV()
	if d.accountID == "" {
		fmt.Fprintln(stderr, "update failed: plugin spec has no x-mb.account-id")
		return 1
	}

	urls := cfg.URLs()
	client := newRegistry(newBroker(d.kv, urls, d.log), urls, d.hc, d.log)
	if err := client.Update(ctx, d.pluginID, d.accountID); err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			fmt.Fprintf(stderr, "update failed: no credential for %s; run `make-agent login` or `make-agent deploy` first\n", d.accountID)
		} else {
			fmt.Fprintln(stderr, "update failed:", err)
		}
		return 1
	}
	fmt.Fprintln(stdout, "Updated plugin", d.pluginID)
	return 0
}
