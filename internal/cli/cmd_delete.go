package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bitteprotocol/make-agent/internal/config"
	"github.com/bitteprotocol/make-agent/internal/domain"
	ilog "github.com/bitteprotocol/make-agent/internal/log"
)

func runDelete(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, rest, err := config.ParseRegistryFlags("delete", args)
	if err != nil {
		fmt.Fprintln(stderr, "delete command error:", err)
		return 2
	}
	if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
		fmt.Fprintln(stderr, "delete command error: expected a plugin id, e.g. `make-agent delete my-agent.serveo.net`")
		return 2
	}
	pluginID := strings.TrimSpace(rest[0])
	logger := ilog.NewWithWriter(stderr, cfg.LogLevel)

	kv, closeKV, err := openState(cfg)
	if err != nil {
		logger.Error("state backend unavailable", "backend", cfg.StateBackend, "err", err)
		return 1
	}
	defer closeKV()

	urls := cfg.URLs()
	client := newRegistry(newBroker(kv, urls, logger), urls, &http.Client{Timeout: cfg.Timeout}, logger)
	if err := client.Delete(ctx, pluginID); err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			fmt.Fprintln(stderr, "delete failed: not logged in; run `make-agent login` first")
		} else {
			fmt.Fprintln(stderr, "delete failed:", err)
		}
		return 1
	}
	fmt.Fprintln(stdout, "Deleted plugin", pluginID)
	return 0
}
