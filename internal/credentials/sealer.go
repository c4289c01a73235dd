// Package credentials encrypts OAuth tokens at rest.
// Tokens grant access to the user's calendars and task lists, so they are
// sealed with a passphrase-derived key and never stored in the clear.
package credentials

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/daygrid/daygrid/internal/core"
)

const saltSize = 32

// Sealer encrypts and decrypts credential blobs with a key derived from
// the daemon passphrase via Argon2id. Each sealed blob carries its own
// salt and nonce, so rotating the passphrase only requires re-sealing.
type Sealer struct {
	passphrase []byte
}

// NewSealer creates a sealer for the given passphrase
func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: []byte(passphrase)}
}

// Seal encrypts data. Output layout: salt || nonce || ciphertext.
func (s *Sealer) Seal(data []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(data)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, nil), nil
}

// Open decrypts a blob produced by Seal. A wrong passphrase or corrupted
// blob returns core.ErrDecryptionFailed.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if len(blob) < saltSize {
		return nil, core.ErrDecryptionFailed
	}
	salt, rest := blob[:saltSize], blob[saltSize:]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	if len(rest) < aead.NonceSize() {
		return nil, core.ErrDecryptionFailed
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	data, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, core.ErrDecryptionFailed
	}
	return data, nil
}

func (s *Sealer) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, 3, 64*1024, 4, 32)
}
