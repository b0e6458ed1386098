package signcodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/bitteprotocol/make-agent/internal/domain"
)

func TestEncodeLayout(t *testing.T) {
	t.Parallel()

	p := Payload{Message: "hi", Recipient: "r"}
	p.Nonce[0] = 0xAA

	want := []byte{2, 0, 0, 0, 'h', 'i'}
	nonce := make([]byte, NonceSize)
	nonce[0] = 0xAA
	want = append(want, nonce...)
	want = append(want, 1, 0, 0, 0, 'r')
	want = append(want, 0)

	if got := Encode(p); !bytes.Equal(got, want) {
		t.Fatalf("encode mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestEncodeWithCallbackURL(t *testing.T) {
	t.Parallel()

	p := Payload{Message: "", Recipient: "", CallbackURL: "cb"}
	got := Encode(p)
	tail := got[len(got)-7:]
	want := []byte{1, 2, 0, 0, 0, 'c', 'b'}
	if !bytes.Equal(tail, want) {
		t.Fatalf("option tail mismatch: got %x, want %x", tail, want)
	}
	if len(got) != 4+NonceSize+4+7 {
		t.Fatalf("unexpected length %d", len(got))
	}
}

func TestHashUsesMessageTagPrefix(t *testing.T) {
	t.Parallel()

	p := Payload{Message: "Register Bitte Agent!", Recipient: "alice.test", CallbackURL: "https://wallet.example.test/success"}
	prefix := []byte{0x9d, 0x01, 0x00, 0x80}
	want := sha256.Sum256(append(prefix, Encode(p)...))
	if got := Hash(p); got != want {
		t.Fatalf("hash mismatch: got %x, want %x", got, want)
	}
}

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	nonce := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	a, err := NewPayload("Register Bitte Agent!", nonce, "alice.test", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewPayload("Register Bitte Agent!", nonce, "alice.test", "")
	if err != nil {
		t.Fatal(err)
	}
	if Hash(a) != Hash(b) {
		t.Fatal("expected identical digests for identical payloads")
	}
	c, _ := NewPayload("Register Bitte Agent!", nonce, "bob.test", "")
	if Hash(a) == Hash(c) {
		t.Fatal("expected different digests for different recipients")
	}
}

func TestNonceBufferPadsShortNonce(t *testing.T) {
	t.Parallel()

	short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	buf, err := NonceBuffer(short)
	if err != nil {
		t.Fatal(err)
	}
	want := [NonceSize]byte{1, 2, 3}
	if buf != want {
		t.Fatalf("got %x, want %x", buf, want)
	}
}

func TestNonceBufferRejectsLongNonce(t *testing.T) {
	t.Parallel()

	long := base64.StdEncoding.EncodeToString(make([]byte, NonceSize+1))
	_, err := NonceBuffer(long)
	if !errors.Is(err, ErrNonceTooLong) {
		t.Fatalf("expected ErrNonceTooLong, got %v", err)
	}
}

func TestNonceBufferAcceptsExactAndUnpadded(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte{0xfe}, NonceSize)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawURLEncoding} {
		buf, err := NonceBuffer(enc.EncodeToString(raw))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(buf[:], raw) {
			t.Fatalf("nonce mismatch: %x", buf)
		}
	}
}

func TestNonceBufferRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NonceBuffer("not base64 !!")
	if !errors.Is(err, domain.ErrMalformedCredential) {
		t.Fatalf("expected ErrMalformedCredential, got %v", err)
	}
}
