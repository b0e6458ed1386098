package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bitteprotocol/make-agent/internal/config"
	"github.com/bitteprotocol/make-agent/internal/domain"
	ilog "github.com/bitteprotocol/make-agent/internal/log"
)

func runLogin(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, rest, err := config.ParseRegistryFlags("login", args)
	if err != nil {
		fmt.Fprintln(stderr, "login command error:", err)
		return 2
	}
	if len(rest) > 0 {
		fmt.Fprintln(stderr, "login command error: unexpected arguments")
		return 2
	}
	logger := ilog.NewWithWriter(stderr, cfg.LogLevel)

	kv, closeKV, err := openState(cfg)
	if err != nil {
		logger.Error("state backend unavailable", "backend", cfg.StateBackend, "err", err)
		return 1
	}
	defer closeKV()

	cred, err := newBroker(kv, cfg.URLs(), logger).Authenticate(ctx, "")
	if err != nil {
		if errors.Is(err, domain.ErrPortInUse) {
			fmt.Fprintln(stderr, "login failed: another sign-in is already waiting for the wallet")
		} else {
			fmt.Fprintln(stderr, "login failed:", err)
		}
		return 1
	}
	fmt.Fprintln(stdout, "Logged in as", cred.AccountID)
	return 0
}
