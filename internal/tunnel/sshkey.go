package tunnel

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// DefaultKeyBits is the RSA size used for generated tunnel keys.
const DefaultKeyBits = 4096

const keyComment = "make-agent"

// EnsureKeyPair creates an RSA keypair at path (private, 0600) and path+".pub"
// (authorized_keys format) unless the private key already exists. It reports
// whether a key was generated.
func EnsureKeyPair(path string, bits int) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat ssh key: %w", err)
	}
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return false, fmt.Errorf("create ssh key dir: %w", err)
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return false, fmt.Errorf("generate rsa key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(key, keyComment)
	if err != nil {
		return false, fmt.Errorf("marshal private key: %w", err)
	}
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return false, fmt.Errorf("marshal public key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return false, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", ssh.MarshalAuthorizedKey(pub), 0o644); err != nil {
		return false, fmt.Errorf("write public key: %w", err)
	}
	return true, nil
}
