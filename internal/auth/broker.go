package auth

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/bitteprotocol/make-agent/internal/browser"
	ilog "github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/state"
)

// DefaultPort is the fixed local port the signing page posts back to.
const DefaultPort = 6969

// DefaultMessage is the human-readable text the wallet is asked to sign.
const DefaultMessage = "Register Bitte Agent!"

// BrokerOptions configures a [Broker].
type BrokerOptions struct {
	// SignURL is the wallet page that signs the message.
	SignURL string
	// SuccessURL is where the wallet redirects after signing.
	SuccessURL string
	// Port is the local callback port. Zero means [DefaultPort].
	Port int
	// Host is the interface the callback listener binds. Defaults to 127.0.0.1.
	Host string
	// Message overrides [DefaultMessage].
	Message string
	// Open launches a browser. Defaults to [browser.Open].
	Open func(url string) error
	// Listen overrides net.Listen (tests).
	Listen func(network, address string) (net.Listener, error)
	Logger *slog.Logger
}

// Broker hands out credentials, either from the side-channel cache or by
// running a browser signing handshake.
type Broker struct {
	kv         state.KV
	signURL    string
	successURL string
	host       string
	port       int
	message    string
	open       func(string) error
	listen     func(network, address string) (net.Listener, error)
	log        *slog.Logger

	inFlight atomic.Bool
}

// NewBroker creates a Broker that caches credentials in kv.
func NewBroker(kv state.KV, opts BrokerOptions) *Broker {
	b := &Broker{
		kv:         kv,
		signURL:    opts.SignURL,
		successURL: opts.SuccessURL,
		host:       opts.Host,
		port:       opts.Port,
		message:    opts.Message,
		open:       opts.Open,
		listen:     opts.Listen,
		log:        ilog.OrDefault(opts.Logger),
	}
	if b.host == "" {
		b.host = "127.0.0.1"
	}
	if b.port == 0 {
		b.port = DefaultPort
	}
	if b.message == "" {
		b.message = DefaultMessage
	}
	if b.open == nil {
		b.open = browser.Open
	}
	if b.listen == nil {
		b.listen = net.Listen
	}
	return b
}

// Cached returns the stored credential. When accountID is set the credential
// is only returned if it verifies for that account. A missing entry yields
// ok=false with a nil error.
func (b *Broker) Cached(ctx context.Context, accountID string) (Credential, bool, error) {
	raw, ok, err := b.kv.Get(ctx, state.CredentialKey)
	if err != nil || !ok || raw == "" {
		return Credential{}, false, err
	}
	cred, err := ParseCredential([]byte(raw))
	if err != nil {
		return Credential{}, false, err
	}
	if accountID == "" {
		return cred, true, nil
	}
	valid, err := Verify(cred, accountID)
	if err != nil {
		return Credential{}, false, err
	}
	if !valid {
		b.log.Debug("cached credential does not match account", "account_id", accountID, "credential_account", cred.AccountID)
		return Credential{}, false, nil
	}
	return cred, true, nil
}

// Authenticate returns a cached credential for accountID or, failing that,
// runs the handshake and persists the result.
func (b *Broker) Authenticate(ctx context.Context, accountID string) (Credential, error) {
	cred, ok, err := b.Cached(ctx, accountID)
	if err != nil {
		b.log.Warn("ignoring unusable cached credential", "err", err)
	}
	if ok {
		b.log.Debug("already authenticated", "account_id", cred.AccountID)
		return cred, nil
	}

	b.log.Info("not authenticated; redirecting to wallet for signing")
	cred, err = b.RunHandshake(ctx)
	if err != nil {
		return Credential{}, err
	}
	if valid, err := Verify(cred, ""); err != nil || !valid {
		b.log.Warn("signed message verification failed", "account_id", cred.AccountID, "err", err)
	}
	if accountID != "" && cred.AccountID != accountID {
		b.log.Warn("credential signed by a different account", "expected", accountID, "got", cred.AccountID)
	}
	if err := b.kv.Set(ctx, state.CredentialKey, cred.Encode()); err != nil {
		b.log.Warn("failed to persist credential", "err", err)
	} else {
		b.log.Info("new credential stored", "account_id", cred.AccountID)
	}
	return cred, nil
}
