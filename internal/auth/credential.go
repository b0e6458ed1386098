// Package auth verifies signed wallet credentials and drives the browser
// handshake that produces them.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/signcodec"
)

const ed25519KeyPrefix = "ed25519:"

// Credential is a signed message proving control of a wallet account. It is
// sent verbatim (JSON encoded) as the registry API key.
type Credential struct {
	Message     string `json:"message"`
	Nonce       string `json:"nonce"`
	PublicKey   string `json:"publicKey"`
	Recipient   string `json:"recipient"`
	Signature   string `json:"signature"`
	AccountID   string `json:"accountId,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// ParseCredential decodes and validates a JSON credential.
func ParseCredential(data []byte) (Credential, error) {
	var c Credential
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&c); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err)
	}
	if err := c.Validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Validate checks that every required field is present.
func (c Credential) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"message", c.Message},
		{"nonce", c.Nonce},
		{"publicKey", c.PublicKey},
		{"recipient", c.Recipient},
		{"signature", c.Signature},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrMalformedCredential, strings.Join(missing, ", "))
	}
	return nil
}

// Encode returns the JSON form used for persistence and the API key header.
func (c Credential) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// Payload reconstructs the signed payload from the credential fields.
func (c Credential) Payload() (signcodec.Payload, error) {
	return signcodec.NewPayload(c.Message, c.Nonce, c.Recipient, c.CallbackURL)
}

// Verify reports whether c carries a valid signature over its payload and,
// when expectedAccountID is set, whether it was issued for that account.
// The account check runs first and needs no cryptography. A signature that
// simply does not match yields false; only structurally invalid input
// (bad base64, unknown key type, oversized nonce) returns an error.
func Verify(c Credential, expectedAccountID string) (bool, error) {
	if expectedAccountID != "" && expectedAccountID != c.AccountID {
		return false, nil
	}
	payload, err := c.Payload()
	if err != nil {
		return false, err
	}
	pub, err := ParsePublicKey(c.PublicKey)
	if err != nil {
		return false, err
	}
	sig, err := signcodec.DecodeBase64(c.Signature)
	if err != nil {
		return false, fmt.Errorf("%w: signature: %v", domain.ErrMalformedCredential, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	digest := signcodec.Hash(payload)
	return ed25519.Verify(pub, digest[:], sig), nil
}

// ParsePublicKey decodes an "ed25519:<base58>" wallet public key. The prefix
// is optional.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if scheme, rest, ok := strings.Cut(s, ":"); ok {
		if !strings.EqualFold(scheme, "ed25519") {
			return nil, fmt.Errorf("%w: unsupported key type %q", domain.ErrMalformedCredential, scheme)
		}
		s = rest
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", domain.ErrMalformedCredential, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", domain.ErrMalformedCredential, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// FormatPublicKey renders pub in the wallet's "ed25519:<base58>" form.
func FormatPublicKey(pub ed25519.PublicKey) string {
	return ed25519KeyPrefix + base58.Encode(pub)
}

// IsMalformed reports whether err stems from a structurally invalid credential.
func IsMalformed(err error) bool {
	return errors.Is(err, domain.ErrMalformedCredential) || errors.Is(err, domain.ErrNonceTooLong)
}
