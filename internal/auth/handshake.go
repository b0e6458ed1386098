package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/netutil"
)

const (
	callbackMaxBody         = 1 << 20
	callbackShutdownTimeout = 5 * time.Second
	callbackHeaderTimeout   = 10 * time.Second
)

type handshakeResult struct {
	cred Credential
	err  error
}

// RunHandshake opens the wallet signing page and waits for the signed
// credential to be posted back to a one-shot local listener. It blocks until
// a credential arrives, the listener rejects the callback, or ctx is done.
// Only one handshake may run at a time; a concurrent call fails with
// [domain.ErrPortInUse].
func (b *Broker) RunHandshake(ctx context.Context) (Credential, error) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return Credential{}, fmt.Errorf("%w: another handshake is in flight", domain.ErrPortInUse)
	}
	defer b.inFlight.Store(false)

	addr := net.JoinHostPort(b.host, strconv.Itoa(b.port))
	ln, err := b.listen("tcp", addr)
	if err != nil {
		if netutil.IsAddrInUse(err) {
			return Credential{}, fmt.Errorf("%w: %s: %v", domain.ErrPortInUse, addr, err)
		}
		return Credential{}, fmt.Errorf("handshake listen %s: %w", addr, err)
	}

	postEndpoint := callbackEndpoint(ln, b.port)
	nonce, err := GenerateNonce()
	if err != nil {
		_ = ln.Close()
		return Credential{}, fmt.Errorf("generate nonce: %w", err)
	}

	results := make(chan handshakeResult, 1)
	srv := &http.Server{
		Handler:           b.callbackRouter(results),
		ReadHeaderTimeout: callbackHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		b.log.Debug("handshake listener closed", "addr", ln.Addr().String())
	}()

	signURL := BuildSignURL(b.signURL, b.message, b.successURL, nonce, postEndpoint)
	b.log.Info("opening wallet to sign message", "url", signURL)
	if err := b.open(signURL); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", domain.ErrBrowserLaunch, err)
	}

	select {
	case res := <-results:
		return res.cred, res.err
	case err := <-serveErr:
		return Credential{}, fmt.Errorf("handshake listener: %w", err)
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

func (b *Broker) callbackRouter(results chan<- handshakeResult) http.Handler {
	deliver := func(res handshakeResult) {
		select {
		case results <- res:
		default:
		}
	}

	r := chi.NewRouter()
	r.Use(callbackCORS)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/*", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, callbackMaxBody))
		if err != nil || !json.Valid(body) {
			b.log.Error("handshake callback carried invalid JSON", "err", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
			deliver(handshakeResult{err: fmt.Errorf("%w: invalid JSON body", domain.ErrHandshakeRejected)})
			return
		}
		cred, err := ParseCredential(body)
		if err != nil {
			b.log.Error("handshake callback carried an invalid credential", "err", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid credential"})
			deliver(handshakeResult{err: err})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Signed message received"})
		deliver(handshakeResult{cred: cred})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
		deliver(handshakeResult{err: fmt.Errorf("%w: method %s not allowed", domain.ErrHandshakeRejected, req.Method)})
	})
	return r
}

func callbackCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// BuildSignURL composes the wallet signing URL. Parameters are
// percent-encoded in a fixed order.
func BuildSignURL(base, message, callbackURL, nonce, postEndpoint string) string {
	params := []struct{ key, value string }{
		{"message", message},
		{"callbackUrl", callbackURL},
		{"nonce", nonce},
		{"postEndpoint", postEndpoint},
	}
	var sb strings.Builder
	sb.WriteString(base)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	for _, p := range params {
		sb.WriteString(sep)
		sb.WriteString(p.key)
		sb.WriteByte('=')
		sb.WriteString(percentEncode(p.value))
		sep = "&"
	}
	return sb.String()
}

func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// callbackEndpoint names the address ln is bound to. An unspecified bind
// is advertised as localhost.
func callbackEndpoint(ln net.Listener, fallbackPort int) string {
	host, port := "localhost", strconv.Itoa(fallbackPort)
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		if tcp.Port > 0 {
			port = strconv.Itoa(tcp.Port)
		}
		if tcp.IP != nil && !tcp.IP.IsUnspecified() {
			host = tcp.IP.String()
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}
