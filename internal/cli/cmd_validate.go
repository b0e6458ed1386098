package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bitteprotocol/make-agent/internal/config"
	ilog "github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/netutil"
	"github.com/bitteprotocol/make-agent/internal/pluginspec"
)

const defaultValidatePort = 3000

func runValidate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, rest, err := config.ParseRegistryFlags("validate", args)
	if err != nil {
		fmt.Fprintln(stderr, "validate command error:", err)
		return 2
	}
	if len(rest) > 1 {
		fmt.Fprintln(stderr, "validate command error: expected at most one base URL")
		return 2
	}
	baseURL := netutil.LocalURL(defaultValidatePort)
	if len(rest) == 1 {
		baseURL = rest[0]
	}
	logger := ilog.NewWithWriter(stderr, cfg.LogLevel)

	specURL := config.SpecURL(baseURL)
	v := pluginspec.NewValidator(pluginspec.Options{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Logger:     logger,
	})
	res, err := v.Validate(ctx, specURL)
	if err != nil {
		fmt.Fprintln(stderr, "validate failed:", err)
		return 1
	}
	if !res.Valid {
		fmt.Fprintln(stdout, "Invalid plugin spec at", specURL)
		for _, p := range res.Problems {
			fmt.Fprintln(stdout, "  -", p)
		}
		return 1
	}
	fmt.Fprintln(stdout, "Valid plugin spec at", specURL)
	if res.AssistantName != "" {
		fmt.Fprintln(stdout, "  assistant:", res.AssistantName)
	}
	fmt.Fprintln(stdout, "  account:  ", res.AccountID)
	return 0
}
