// Package secure implements the application-layer cryptography for peer
// links: AES-GCM framing for audio payloads and RSA-OAEP wrapping for
// delivering session keys, plus the persisted local key pair.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/veilcall/veilcall/shared"
)

const (
	// SessionKeySize is the size of a per-link AES-256 session key.
	SessionKeySize = 32

	// NonceSize is the GCM nonce length prepended to every payload.
	NonceSize = 12

	// TagSize is the GCM authentication tag length at the end of every
	// payload.
	TagSize = 16
)

// NewSessionKey draws a fresh random session key.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("drawing session key: %w", err)
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, shared.ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals one audio frame as nonce || ciphertext || tag. The nonce is
// freshly drawn on every call; reusing a nonce under the same key voids the
// AEAD guarantees, so no caller-supplied nonces are accepted.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("drawing nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt. Integrity failures return
// shared.ErrAuthTagMismatch; callers drop the frame and keep the link open.
func Decrypt(payload, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(payload) < NonceSize+TagSize {
		return nil, shared.ErrAuthTagMismatch
	}
	nonce, ciphertext := payload[:NonceSize], payload[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, shared.ErrAuthTagMismatch
	}
	return plaintext, nil
}
