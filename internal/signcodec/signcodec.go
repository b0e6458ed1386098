// Package signcodec implements the deterministic binary encoding and hashing
// of the message payload a wallet signs during the authentication handshake.
//
// The layout is fixed and field-order preserving:
//
//	message     u32 little-endian length + UTF-8 bytes
//	nonce       32 raw bytes
//	recipient   u32 little-endian length + UTF-8 bytes
//	callbackUrl u8 presence tag (0|1), then u32 length + bytes when present
//
// The digest is SHA-256 over a 4-byte little-endian class tag followed by the
// encoded payload.
package signcodec

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/bitteprotocol/make-agent/internal/domain"
)

// NonceSize is the fixed nonce width in the encoded payload.
const NonceSize = 32

// MessageTag separates signed-message payloads from transaction bytes.
const MessageTag uint32 = 413 + 1<<31

// ErrNonceTooLong is returned when a decoded nonce exceeds [NonceSize].
var ErrNonceTooLong = domain.ErrNonceTooLong

// Payload is the structure signed by the wallet. An empty CallbackURL is
// encoded as an absent option.
type Payload struct {
	Message     string
	Nonce       [NonceSize]byte
	Recipient   string
	CallbackURL string
}

// NewPayload builds a payload from the string fields carried by a credential.
// The nonce is base64 and is right-padded with zero bytes to [NonceSize].
func NewPayload(message, nonce, recipient, callbackURL string) (Payload, error) {
	buf, err := NonceBuffer(nonce)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Message:     message,
		Nonce:       buf,
		Recipient:   recipient,
		CallbackURL: callbackURL,
	}, nil
}

// NonceBuffer decodes a base64 nonce into a fixed 32-byte buffer.
func NonceBuffer(nonce string) ([NonceSize]byte, error) {
	var out [NonceSize]byte
	raw, err := DecodeBase64(nonce)
	if err != nil {
		return out, fmt.Errorf("%w: nonce: %v", domain.ErrMalformedCredential, err)
	}
	if len(raw) > NonceSize {
		return out, fmt.Errorf("%w: got %d bytes", ErrNonceTooLong, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Encode serializes p in the fixed field order.
func Encode(p Payload) []byte {
	size := 4 + len(p.Message) + NonceSize + 4 + len(p.Recipient) + 1
	if p.CallbackURL != "" {
		size += 4 + len(p.CallbackURL)
	}
	out := make([]byte, 0, size)
	out = appendString(out, p.Message)
	out = append(out, p.Nonce[:]...)
	out = appendString(out, p.Recipient)
	if p.CallbackURL == "" {
		return append(out, 0)
	}
	out = append(out, 1)
	return appendString(out, p.CallbackURL)
}

// Hash returns SHA-256(tag || Encode(p)).
func Hash(p Payload) [sha256.Size]byte {
	encoded := Encode(p)
	msg := make([]byte, 4, 4+len(encoded))
	binary.LittleEndian.PutUint32(msg, MessageTag)
	msg = append(msg, encoded...)
	return sha256.Sum256(msg)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// DecodeBase64 accepts standard and URL-safe alphabets, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
