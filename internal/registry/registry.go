// Package registry talks to the wallet's plugin registry. Every call carries
// the signed credential in the bitte-api-key header.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bitteprotocol/make-agent/internal/auth"
	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/retry"
)

// APIKeyHeader carries the JSON-encoded credential.
const APIKeyHeader = "bitte-api-key"

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 * 1024
)

// Credentials supplies the credential attached to registry calls.
type Credentials interface {
	Cached(ctx context.Context, accountID string) (auth.Credential, bool, error)
	Authenticate(ctx context.Context, accountID string) (auth.Credential, error)
}

// RejectedError is a non-2xx answer from the registry.
type RejectedError struct {
	Op         string
	StatusCode int
	Message    string
	DebugURL   string
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s rejected: %d %s", e.Op, e.StatusCode, msg)
}

func (e *RejectedError) Is(target error) bool { return target == domain.ErrRegistryRejected }

// NetworkError is a transport failure (DNS, refused connection, timeout)
// that persisted through every retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == domain.ErrNetworkFailure }

// Options configures a [Client].
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Retry      retry.Options
}

// Client performs register, update and delete calls against one registry.
type Client struct {
	base  string
	creds Credentials
	http  *http.Client
	log   *slog.Logger
	retry retry.Options
}

// New returns a registry client.
func New(creds Credentials, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		base:  strings.TrimSuffix(opts.BaseURL, "/"),
		creds: creds,
		http:  hc,
		log:   log.OrDefault(opts.Logger),
		retry: opts.Retry,
	}
}

// Register creates the plugin entry. A handshake runs when no cached
// credential verifies for accountID.
func (c *Client) Register(ctx context.Context, pluginID, accountID string) (string, error) {
	cred, err := c.creds.Authenticate(ctx, accountID)
	if err != nil {
		return "", &domain.OpError{Op: "register", PluginID: pluginID, Err: err}
	}
	if err := c.do(ctx, "register", http.MethodPost, pluginID, cred); err != nil {
		return "", err
	}
	c.log.Info("plugin registered", "plugin_id", pluginID)
	return pluginID, nil
}

// Update refreshes the plugin entry. It never starts a handshake.
func (c *Client) Update(ctx context.Context, pluginID, accountID string) error {
	cred, err := c.cached(ctx, "update", pluginID, accountID)
	if err != nil {
		return err
	}
	if err := c.do(ctx, "update", http.MethodPut, pluginID, cred); err != nil {
		return err
	}
	c.log.Info("plugin updated", "plugin_id", pluginID)
	return nil
}

// Delete removes the plugin entry using whatever credential is cached.
func (c *Client) Delete(ctx context.Context, pluginID string) error {
	cred, err := c.cached(ctx, "delete", pluginID, "")
	if err != nil {
		return err
	}
	if err := c.do(ctx, "delete", http.MethodDelete, pluginID, cred); err != nil {
		return err
	}
	c.log.Info("plugin deleted", "plugin_id", pluginID)
	return nil
}

func (c *Client) cached(ctx context.Context, op, pluginID, accountID string) (auth.Credential, error) {
	cred, ok, err := c.creds.Cached(ctx, accountID)
	if err != nil {
		return auth.Credential{}, &domain.OpError{Op: op, PluginID: pluginID, Err: err}
	}
	if !ok {
		return auth.Credential{}, &domain.OpError{Op: op, PluginID: pluginID, Err: domain.ErrNoCredential}
	}
	return cred, nil
}

func (c *Client) do(ctx context.Context, op, method, pluginID string, cred auth.Credential) error {
	target := c.base + "/" + url.PathEscape(pluginID)
	header := cred.Encode()

	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set(APIKeyHeader, header)
		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, &NetworkError{Op: op, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return struct{}{}, nil
		}
		return struct{}{}, c.rejected(op, pluginID, resp.StatusCode, body)
	}, isNetworkError, c.retry)
	if err != nil && ctx.Err() == nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			c.log.Error("registry unreachable", "op", op, "plugin_id", pluginID, "err", netErr.Err)
		}
	}
	return err
}

func (c *Client) rejected(op, pluginID string, status int, body []byte) *RejectedError {
	re := &RejectedError{Op: op, StatusCode: status, Message: strings.TrimSpace(string(body))}
	var errResp struct {
		Error    string `json:"error"`
		Message  string `json:"message"`
		DebugURL string `json:"debugUrl"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Error != "":
			re.Message = errResp.Error
		case errResp.Message != "":
			re.Message = errResp.Message
		}
		re.DebugURL = errResp.DebugURL
	}
	c.log.Error("registry rejected request", "op", op, "plugin_id", pluginID, "status", status, "body", re.Message)
	if re.DebugURL != "" {
		c.log.Info("registry debug url", "url", re.DebugURL)
	}
	return re
}

func isNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
