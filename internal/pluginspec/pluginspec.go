// Package pluginspec fetches and checks the agent manifest served at
// /.well-known/ai-plugin.json.
package pluginspec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/retry"
)

const (
	defaultTimeout = 15 * time.Second
	maxSpecBytes   = 5 * 1024 * 1024
)

// Result is the outcome of a manifest check. AccountID is filled whenever
// the manifest names one, even if other problems were found.
type Result struct {
	Valid         bool
	AccountID     string
	AssistantName string
	ServerURL     string
	Problems      []string
}

// Options configures a [Validator].
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Retry      retry.Options
}

// Validator fetches manifests over HTTP.
type Validator struct {
	http  *http.Client
	log   *slog.Logger
	retry retry.Options
}

// NewValidator returns a validator.
func NewValidator(opts Options) *Validator {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Validator{http: hc, log: log.OrDefault(opts.Logger), retry: opts.Retry}
}

// Validate fetches specURL and checks it. Fetching retries on any failure,
// including a body that is not JSON; the returned error is the last one.
func (v *Validator) Validate(ctx context.Context, specURL string) (Result, error) {
	attempt := 0
	body, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		attempt++
		if attempt > 1 {
			v.log.Info("retrying spec fetch", "url", specURL, "attempt", attempt)
		}
		return v.fetch(ctx, specURL)
	}, nil, v.retry)
	if err != nil {
		return Result{}, fmt.Errorf("fetch spec %s: %w", specURL, err)
	}
	res := Check(body)
	if res.Valid {
		v.log.Info("plugin spec is valid", "account_id", res.AccountID)
	} else {
		v.log.Warn("plugin spec is invalid", "problems", strings.Join(res.Problems, "; "))
	}
	return res, nil
}

func (v *Validator) fetch(ctx context.Context, specURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := v.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecBytes))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("response is not valid JSON")
	}
	return body, nil
}

// Check validates a manifest document.
func Check(doc []byte) Result {
	var root map[string]any
	if err := json.Unmarshal(doc, &root); err != nil {
		return Result{Problems: []string{"document is not a JSON object"}}
	}

	var res Result
	problem := func(format string, args ...any) {
		res.Problems = append(res.Problems, fmt.Sprintf(format, args...))
	}

	if v, _ := root["openapi"].(string); !strings.HasPrefix(v, "3.") {
		problem("openapi must be a 3.x version string")
	}
	if info, ok := root["info"].(map[string]any); !ok {
		problem("info is required")
	} else {
		for _, field := range []string{"title", "version"} {
			if s, _ := info[field].(string); s == "" {
				problem("info.%s is required", field)
			}
		}
	}
	if _, ok := root["paths"].(map[string]any); !ok {
		problem("paths is required")
	}
	if servers, ok := root["servers"].([]any); ok && len(servers) > 0 {
		if first, ok := servers[0].(map[string]any); ok {
			res.ServerURL, _ = first["url"].(string)
		}
	}

	xmb, ok := root["x-mb"].(map[string]any)
	if !ok {
		problem("x-mb is required")
		res.Valid = len(res.Problems) == 0
		return res
	}
	if id, _ := xmb["account-id"].(string); strings.TrimSpace(id) != "" {
		res.AccountID = strings.TrimSpace(id)
	} else {
		problem("x-mb.account-id is required")
	}
	if v, present := xmb["email"]; present {
		if _, ok := v.(string); !ok {
			problem("x-mb.email must be a string")
		}
	}
	checkAssistant(xmb["assistant"], &res, problem)

	res.Valid = len(res.Problems) == 0
	return res
}

func checkAssistant(raw any, res *Result, problem func(string, ...any)) {
	assistant, ok := raw.(map[string]any)
	if !ok {
		problem("x-mb.assistant is required")
		return
	}
	for _, field := range []string{"name", "description", "instructions"} {
		if s, _ := assistant[field].(string); s == "" {
			problem("x-mb.assistant.%s is required", field)
		}
	}
	res.AssistantName, _ = assistant["name"].(string)

	if v, present := assistant["tools"]; present {
		tools, ok := v.([]any)
		if !ok {
			problem("x-mb.assistant.tools must be an array")
		}
		for i, tool := range tools {
			obj, ok := tool.(map[string]any)
			if !ok {
				problem("x-mb.assistant.tools[%d] must be an object", i)
				continue
			}
			if _, ok := obj["type"].(string); !ok {
				problem("x-mb.assistant.tools[%d].type must be a string", i)
			}
		}
	}
	if v, present := assistant["chainIds"]; present && !allOf[float64](v) {
		problem("x-mb.assistant.chainIds must be an array of numbers")
	}
	if v, present := assistant["categories"]; present && !allOf[string](v) {
		problem("x-mb.assistant.categories must be an array of strings")
	}
	for _, field := range []string{"version", "repo"} {
		if v, present := assistant[field]; present {
			if _, ok := v.(string); !ok {
				problem("x-mb.assistant.%s must be a string", field)
			}
		}
	}
}

func allOf[T any](v any) bool {
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if _, ok := item.(T); !ok {
			return false
		}
	}
	return true
}
