package auth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	ilog "github.com/bitteprotocol/make-agent/internal/log"
	"github.com/bitteprotocol/make-agent/internal/state"
)

func TestCachedMissing(t *testing.T) {
	t.Parallel()

	b := NewBroker(state.NewMemoryKV(nil), BrokerOptions{Logger: ilog.Discard()})
	_, ok, err := b.Cached(context.Background(), "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCachedMatchesAccount(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "alice.test")
	kv := state.NewMemoryKV(map[string]string{state.CredentialKey: cred.Encode()})
	b := NewBroker(kv, BrokerOptions{Logger: ilog.Discard()})
	ctx := context.Background()

	got, ok, err := b.Cached(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cred, got)

	got, ok, err = b.Cached(ctx, "alice.test")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cred, got)

	_, ok, err = b.Cached(ctx, "bob.test")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCachedRejectsForgedCredentialForAccount(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "alice.test")
	cred.Message = "something else"
	kv := state.NewMemoryKV(map[string]string{state.CredentialKey: cred.Encode()})
	b := NewBroker(kv, BrokerOptions{Logger: ilog.Discard()})

	_, ok, err := b.Cached(context.Background(), "alice.test")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCachedMalformedEntry(t *testing.T) {
	t.Parallel()

	kv := state.NewMemoryKV(map[string]string{state.CredentialKey: "not-json"})
	b := NewBroker(kv, BrokerOptions{Logger: ilog.Discard()})
	_, ok, err := b.Cached(context.Background(), "")
	require.False(t, ok)
	require.True(t, IsMalformed(err))
}

func TestAuthenticateUsesCacheWithoutHandshake(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "alice.test")
	kv := state.NewMemoryKV(map[string]string{state.CredentialKey: cred.Encode()})
	b := NewBroker(kv, BrokerOptions{
		Open:   func(string) error { t.Fatal("handshake must not run"); return nil },
		Logger: ilog.Discard(),
	})
	got, err := b.Authenticate(context.Background(), "alice.test")
	require.NoError(t, err)
	require.Equal(t, cred, got)
}

func TestAuthenticateRunsHandshakeAndPersists(t *testing.T) {
	t.Parallel()

	kv := state.NewMemoryKV(nil)
	b, opened := newTestBroker(t, kv)
	cred, _ := signedCredential(t, "alice.test")

	done := make(chan error, 1)
	go func() {
		got, err := b.Authenticate(context.Background(), "")
		if err == nil && got != cred {
			err = io.ErrUnexpectedEOF
		}
		done <- err
	}()

	ep := postEndpoint(t, waitOpened(t, opened))
	resp, err := http.Post(ep, "application/json", strings.NewReader(cred.Encode()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.NoError(t, <-done)

	stored, ok, err := kv.Get(context.Background(), state.CredentialKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cred.Encode(), stored)
}
