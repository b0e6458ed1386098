package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/signcodec"
)

func signedCredential(t *testing.T, accountID string) (Credential, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	cred := Credential{
		Message:     DefaultMessage,
		Nonce:       nonce,
		PublicKey:   FormatPublicKey(pub),
		Recipient:   "ai.bitte.near",
		AccountID:   accountID,
		CallbackURL: "https://wallet.example.test/success",
	}
	payload, err := cred.Payload()
	require.NoError(t, err)
	digest := signcodec.Hash(payload)
	cred.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest[:]))
	return cred, priv
}

func TestVerifyAcceptsMatchingSignature(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "alice.test")
	ok, err := Verify(cred, "")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify(cred, "alice.test")
	require.NoError(t, err)
	require.True(t, ok)
}

// walletSigned was produced by a NEAR wallet key over the Borsh payload.
var walletSigned = Credential{
	Message:     "Hello World",
	Nonce:       "base64EncodedNonce==",
	PublicKey:   "ed25519:6djYMWvkhKMEDCSTQ1LWB3tqLXRD8EX9YPifaTaeh1cb",
	Recipient:   "recipient.near",
	Signature:   "q+8077M6dwQV69zKoIXpR6PTfi7HLLgnIChgoSgh3qzybizDqImfSs/b7DtHjtYpnv5vsW44PrYo0pPsGc3iAA==",
	AccountID:   "sender.near",
	CallbackURL: "https://example.com/callback",
}

func TestVerifyWalletSignedMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		account string
		mutate  func(*Credential)
		want    bool
	}{
		{name: "any account", want: true},
		{name: "matching account", account: "sender.near", want: true},
		{name: "other account", account: "different.near", want: false},
		{name: "altered signature", mutate: func(c *Credential) {
			c.Signature = strings.Replace(c.Signature, "0", "1", 1)
		}, want: false},
		{name: "url-safe unpadded signature", mutate: func(c *Credential) {
			sig := strings.NewReplacer("+", "-", "/", "_").Replace(c.Signature)
			c.Signature = strings.TrimRight(sig, "=")
		}, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cred := walletSigned
			if tc.mutate != nil {
				tc.mutate(&cred)
			}
			ok, err := Verify(cred, tc.account)
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
		})
	}
}

func TestVerifyRejectsAnyAlteredSignatureByte(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "alice.test")
	sig, err := base64.StdEncoding.DecodeString(cred.Signature)
	require.NoError(t, err)

	for _, i := range []int{0, 1, 31, 32, 63} {
		altered := append([]byte(nil), sig...)
		altered[i] ^= 0x01
		c := cred
		c.Signature = base64.StdEncoding.EncodeToString(altered)
		ok, err := Verify(c, "")
		require.NoError(t, err, "byte %d", i)
		require.False(t, ok, "byte %d", i)
	}
}

func TestVerifyAccountMismatchFailsBeforeCrypto(t *testing.T) {
	t.Parallel()

	// Every cryptographic field is garbage: reaching the signature check
	// would return an error instead of a clean false.
	cred := Credential{
		Message:   "m",
		Nonce:     "!!!",
		PublicKey: "rsa:nope",
		Recipient: "r",
		Signature: "???",
		AccountID: "bob.test",
	}
	ok, err := Verify(cred, "alice.test")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyWrongPayloadField(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "alice.test")
	cred.Recipient = "mallory.test"
	ok, err := Verify(cred, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyShortSignatureIsFalseNotError(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "")
	cred.Signature = base64.StdEncoding.EncodeToString([]byte("short"))
	ok, err := Verify(cred, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyStructurallyInvalidInput(t *testing.T) {
	t.Parallel()

	base, _ := signedCredential(t, "")

	cases := []struct {
		name   string
		mutate func(*Credential)
		target error
	}{
		{"signature not base64", func(c *Credential) { c.Signature = "%%%" }, domain.ErrMalformedCredential},
		{"unknown key type", func(c *Credential) { c.PublicKey = "secp256k1:abc" }, domain.ErrMalformedCredential},
		{"key not base58", func(c *Credential) { c.PublicKey = "ed25519:0OIl" }, domain.ErrMalformedCredential},
		{"key wrong size", func(c *Credential) { c.PublicKey = "ed25519:3mJr7AoUXx2Wqd" }, domain.ErrMalformedCredential},
		{"nonce too long", func(c *Credential) {
			c.Nonce = base64.StdEncoding.EncodeToString(make([]byte, 40))
		}, domain.ErrNonceTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			ok, err := Verify(c, "")
			require.False(t, ok)
			require.True(t, errors.Is(err, tc.target), "got %v", err)
			require.True(t, IsMalformed(err))
		})
	}
}

func TestParseCredential(t *testing.T) {
	t.Parallel()

	cred, _ := signedCredential(t, "alice.test")
	parsed, err := ParseCredential([]byte(cred.Encode()))
	require.NoError(t, err)
	require.Equal(t, cred, parsed)

	_, err = ParseCredential([]byte(`{"message":"m"}`))
	require.ErrorIs(t, err, domain.ErrMalformedCredential)
	require.Contains(t, err.Error(), "nonce")
	require.Contains(t, err.Error(), "signature")

	_, err = ParseCredential([]byte(`[1,2]`))
	require.ErrorIs(t, err, domain.ErrMalformedCredential)
}

func TestCredentialEncodeOmitsAbsentOptionals(t *testing.T) {
	t.Parallel()

	c := Credential{Message: "m", Nonce: "n", PublicKey: "p", Recipient: "r", Signature: "s"}
	require.Equal(t, `{"message":"m","nonce":"n","publicKey":"p","recipient":"r","signature":"s"}`, c.Encode())
}

func TestPublicKeyRoundTrip(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	got, err := ParsePublicKey(FormatPublicKey(pub))
	require.NoError(t, err)
	require.Equal(t, pub, got)

	bare, err := ParsePublicKey(FormatPublicKey(pub)[len("ed25519:"):])
	require.NoError(t, err)
	require.Equal(t, pub, bare)
}

func TestGenerateNonceFitsPayload(t *testing.T) {
	t.Parallel()

	a, err := GenerateNonce()
	require.NoError(t, err)
	b, err := GenerateNonce()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	buf, err := signcodec.NonceBuffer(a)
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(a)
	require.Equal(t, raw, buf[:])
}
