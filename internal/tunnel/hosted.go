package tunnel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/netutil"
	"github.com/bitteprotocol/make-agent/internal/tunnelproto"
)

const (
	hostedAPITimeout        = 30 * time.Second
	hostedForwardTimeout    = 2 * time.Minute
	wsHandshakeTimeout      = 10 * time.Second
	wsWriteTimeout          = 15 * time.Second
	wsReadLimit             = 64 * 1024 * 1024
	maxConcurrentForwards   = 32
	localForwardResponseMax = 10 * 1024 * 1024
)

var errServerClosed = errors.New("tunnel server closed the session")

// registerError is a non-200 answer from the tunnel server.
type registerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *registerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("register tunnel: %d %s (%s)", e.StatusCode, msg, e.Code)
	}
	return fmt.Sprintf("register tunnel: %d %s", e.StatusCode, msg)
}

type hostedClient struct {
	opts      HostedOptions
	log       *slog.Logger
	apiClient *http.Client
	fwdClient *http.Client
	dialer    websocket.Dialer
}

func newHostedClient(opts HostedOptions, logger *slog.Logger) *hostedClient {
	api := opts.HTTPClient
	if api == nil {
		api = &http.Client{Timeout: hostedAPITimeout}
	}
	return &hostedClient{
		opts:      opts,
		log:       logger,
		apiClient: api,
		fwdClient: &http.Client{
			Timeout: hostedForwardTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimeout,
			TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}

func (c *hostedClient) start(ctx context.Context, localPort int) (*Session, error) {
	if strings.TrimSpace(c.opts.ServerURL) == "" {
		return nil, setupErr(domain.TunnelHosted, errors.New("no tunnel server configured"))
	}
	reg, err := c.register(ctx, localPort)
	if err != nil {
		return nil, setupErr(domain.TunnelHosted, err)
	}
	conn, _, err := c.dialer.DialContext(ctx, reg.WSURL, nil)
	if err != nil {
		return nil, setupErr(domain.TunnelHosted, fmt.Errorf("ws connect: %w", err))
	}
	conn.SetReadLimit(wsReadLimit)

	localBase, _ := url.Parse(netutil.LocalURL(localPort))
	sess := newSession(domain.TunnelHosted, reg.PublicURL)
	rtCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &hostedRuntime{
		client:    c,
		conn:      conn,
		writer:    tunnelproto.NewWriter(conn, wsWriteTimeout),
		localBase: localBase,
		ctx:       rtCtx,
		cancel:    cancel,
		sem:       make(chan struct{}, maxConcurrentForwards),
	}
	sess.teardown = rt.close
	go func() {
		err := rt.run()
		if rt.closing.Load() {
			err = nil
		}
		if err != nil {
			c.log.Warn("hosted tunnel session ended", "tunnel_id", reg.TunnelID, "err", err)
		}
		rt.shutdown()
		rt.requestWG.Wait()
		sess.finish(err)
	}()

	c.log.Info("tunnel ready", "public_url", reg.PublicURL, "tunnel_id", reg.TunnelID)
	return sess, nil
}

func (c *hostedClient) register(ctx context.Context, localPort int) (tunnelproto.RegisterResponse, error) {
	mode := "temporary"
	if c.opts.Name != "" {
		mode = "permanent"
	}
	body, _ := json.Marshal(tunnelproto.RegisterRequest{
		Mode:          mode,
		Subdomain:     strings.TrimSpace(c.opts.Name),
		LocalPort:     strconv.Itoa(localPort),
		ClientVersion: c.opts.Version,
	})
	u := strings.TrimSuffix(c.opts.ServerURL, "/") + tunnelproto.RegisterPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return tunnelproto.RegisterResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return tunnelproto.RegisterResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		re := &registerError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var errResp tunnelproto.ErrorResponse
		if json.Unmarshal(b, &errResp) == nil && errResp.Error != "" {
			re.Message = errResp.Error
			re.Code = errResp.ErrorCode
		}
		return tunnelproto.RegisterResponse{}, re
	}
	var out tunnelproto.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tunnelproto.RegisterResponse{}, fmt.Errorf("decode register response: %w", err)
	}
	out.WSURL = normalizeWSURLPort(out.WSURL, c.opts.ServerURL)
	if out.WSURL == "" {
		return tunnelproto.RegisterResponse{}, errors.New("server returned empty ws_url")
	}
	if strings.TrimSpace(out.PublicURL) == "" {
		return tunnelproto.RegisterResponse{}, errors.New("server returned empty public_url")
	}
	return out, nil
}

// normalizeWSURLPort carries a non-default server port over to a ws_url that
// omits one.
func normalizeWSURLPort(wsURL, serverURL string) string {
	wsURL = strings.TrimSpace(wsURL)
	if wsURL == "" || serverURL == "" {
		return wsURL
	}
	wsParsed, err := url.Parse(wsURL)
	if err != nil || wsParsed.Host == "" || wsParsed.Port() != "" {
		return wsURL
	}
	serverParsed, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return wsURL
	}
	port := serverParsed.Port()
	if port == "" || port == "443" {
		return wsURL
	}
	wsParsed.Host = net.JoinHostPort(wsParsed.Hostname(), port)
	return wsParsed.String()
}

type hostedRuntime struct {
	client    *hostedClient
	conn      *websocket.Conn
	writer    *tunnelproto.Writer
	localBase *url.URL

	ctx    context.Context
	cancel context.CancelFunc

	sem       chan struct{}
	requestWG sync.WaitGroup
	closing   atomic.Bool
	closeOnce sync.Once
}

func (rt *hostedRuntime) run() error {
	for {
		var msg tunnelproto.Message
		if err := rt.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		switch msg.Kind {
		case tunnelproto.KindRequest:
			if msg.Request != nil {
				rt.dispatch(msg.Request)
			}
		case tunnelproto.KindPing:
			if err := rt.writer.Write(tunnelproto.Message{Kind: tunnelproto.KindPong}); err != nil {
				return fmt.Errorf("ws write: %w", err)
			}
		case tunnelproto.KindPong:
		case tunnelproto.KindError:
			rt.client.log.Warn("tunnel server error", "err", msg.Error)
		case tunnelproto.KindClose:
			return errServerClosed
		default:
			rt.client.log.Debug("ignoring tunnel message", "kind", msg.Kind)
		}
	}
}

func (rt *hostedRuntime) dispatch(req *tunnelproto.HTTPRequest) {
	select {
	case rt.sem <- struct{}{}:
	case <-rt.ctx.Done():
		return
	}
	rt.requestWG.Add(1)
	go func() {
		defer rt.requestWG.Done()
		defer func() { <-rt.sem }()
		resp := rt.forwardLocal(req)
		if err := rt.writer.Write(tunnelproto.Message{Kind: tunnelproto.KindResponse, Response: resp}); err != nil {
			rt.client.log.Debug("dropping forwarded response", "id", req.ID, "err", err)
		}
	}()
}

func (rt *hostedRuntime) forwardLocal(req *tunnelproto.HTTPRequest) *tunnelproto.HTTPResponse {
	target := *rt.localBase
	target.Path = strings.TrimSuffix(rt.localBase.Path, "/") + req.Path
	target.RawQuery = req.Query

	body, err := tunnelproto.DecodeBody(req.BodyB64)
	if err != nil {
		return tunnelproto.ErrorReply(req.ID, http.StatusBadGateway, "invalid request body")
	}
	localReq, err := http.NewRequestWithContext(rt.ctx, req.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return tunnelproto.ErrorReply(req.ID, http.StatusBadGateway, "invalid request")
	}
	headers := http.Header(tunnelproto.CloneHeaders(req.Headers))
	netutil.RemoveHopByHopHeaders(headers)
	forwardedHost := strings.TrimSpace(headers.Get("Host"))
	localReq.Header = headers
	localReq.Header.Del("Host")
	if forwardedHost != "" {
		localReq.Host = forwardedHost
	}

	resp, err := rt.client.fwdClient.Do(localReq)
	if err != nil {
		return tunnelproto.ErrorReply(req.ID, http.StatusBadGateway, "local upstream unavailable")
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, localForwardResponseMax+1))
	if err != nil {
		return tunnelproto.ErrorReply(req.ID, http.StatusBadGateway, "failed to read local upstream response")
	}
	if len(b) > localForwardResponseMax {
		return tunnelproto.ErrorReply(req.ID, http.StatusBadGateway, "local upstream response too large")
	}
	respHeaders := resp.Header.Clone()
	netutil.RemoveHopByHopHeaders(respHeaders)
	rt.client.log.Debug("forwarded request", "method", req.Method, "path", req.Path, "status", resp.StatusCode)
	return &tunnelproto.HTTPResponse{
		ID:      req.ID,
		Status:  resp.StatusCode,
		Headers: respHeaders,
		BodyB64: tunnelproto.EncodeBody(b),
	}
}

// close is the session teardown: announce the close and drop the socket.
// The read loop then exits and drains in-flight forwards.
func (rt *hostedRuntime) close() error {
	rt.closing.Store(true)
	_ = rt.writer.Write(tunnelproto.Message{Kind: tunnelproto.KindClose})
	rt.shutdown()
	return nil
}

func (rt *hostedRuntime) shutdown() {
	rt.closeOnce.Do(func() {
		rt.cancel()
		rt.writer.Close()
	})
}
