package application

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Vault sentinel errors. Callers match them with errors.Is.
var (
	ErrInvalidPin        = errors.New("vault: invalid PIN")
	ErrInvalidName       = errors.New("vault: secret name must not be empty")
	ErrDuplicateName     = errors.New("vault: secret name already exists")
	ErrSecretNotFound    = errors.New("vault: secret not found")
	ErrAuthentication    = errors.New("vault: authentication failed")
	ErrDerivation        = errors.New("vault: key derivation failed")
	ErrCipherUnavailable = errors.New("vault: authenticated encryption unavailable")
	ErrFlush             = errors.New("vault: flush to store failed")
)

const (
	derivedKeyLength = 32 // AES-256
	blobVersion      = byte(1)
)

// DeriveKey stretches a PIN into a 32-byte key with PBKDF2-HMAC-SHA256.
// The same inputs always yield the same key.
func DeriveKey(pin string, salt []byte, iterations int) ([]byte, error) {
	if pin == "" {
		return nil, fmt.Errorf("%w: empty PIN", ErrDerivation)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrDerivation)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("%w: iterations must be positive, got %d", ErrDerivation, iterations)
	}
	return pbkdf2.Key([]byte(pin), salt, iterations, derivedKeyLength, sha256.New), nil
}

// Sealer encrypts secrets under PIN-derived keys using AES-256-GCM. Blobs
// have the layout version || nonce || ciphertext || tag.
type Sealer struct {
	salt       []byte
	iterations int

	// newAEAD builds the authenticated cipher. There is no unauthenticated
	// fallback: a construction failure fails the whole operation.
	newAEAD func(key []byte) (cipher.AEAD, error)
}

// NewSealer creates a Sealer bound to a vault-wide salt and iteration count.
func NewSealer(salt []byte, iterations int) *Sealer {
	return &Sealer{
		salt:       append([]byte(nil), salt...),
		iterations: iterations,
		newAEAD:    newGCM,
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

func (s *Sealer) aead(pin string) (cipher.AEAD, error) {
	key, err := DeriveKey(pin, s.salt, s.iterations)
	if err != nil {
		return nil, err
	}
	aead, err := s.newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipherUnavailable, err)
	}
	return aead, nil
}

// Protect encrypts plaintext under the key derived from pin.
func (s *Sealer) Protect(plaintext, pin string) ([]byte, error) {
	aead, err := s.aead(pin)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	blob := make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	// The version byte is bound as additional data so it cannot be swapped.
	return aead.Seal(blob, nonce, []byte(plaintext), blob[:1]), nil
}

// Reveal decrypts a blob produced by Protect. A wrong PIN or any corruption
// of the blob yields ErrAuthentication.
func (s *Sealer) Reveal(blob []byte, pin string) (string, error) {
	aead, err := s.aead(pin)
	if err != nil {
		return "", err
	}

	nonceSize := aead.NonceSize()
	if len(blob) < 1+nonceSize+aead.Overhead() {
		return "", fmt.Errorf("%w: blob too short", ErrAuthentication)
	}
	if blob[0] != blobVersion {
		return "", fmt.Errorf("%w: unknown blob version %d", ErrAuthentication, blob[0])
	}

	nonce, ciphertext := blob[1:1+nonceSize], blob[1+nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, blob[:1])
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return string(plaintext), nil
}
