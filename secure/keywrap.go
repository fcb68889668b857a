package secure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/veilcall/veilcall/shared"
)

// chunkHeaderSize is the fixed-width little-endian length prefix written
// before each ciphertext chunk so the receiver can split the concatenated
// stream without ambiguity.
const chunkHeaderSize = 4

// maxWrapChunk is the largest plaintext a single OAEP encryption can carry
// for the given key: modulus size minus padding overhead (190 bytes for a
// 2048-bit key with SHA-256).
func maxWrapChunk(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// WrapKey encrypts a session key to the recipient's public key. The
// plaintext is split into OAEP-sized chunks, each encrypted independently
// and emitted as length-prefixed ciphertext.
func WrapKey(key []byte, recipient *rsa.PublicKey) ([]byte, error) {
	if recipient == nil {
		return nil, shared.ErrMissingPublicKey
	}
	chunk := maxWrapChunk(recipient)
	if chunk <= 0 {
		return nil, fmt.Errorf("recipient key too small for OAEP")
	}
	var wrapped []byte
	for len(key) > 0 {
		n := min(len(key), chunk)
		ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, key[:n], nil)
		if err != nil {
			return nil, fmt.Errorf("encrypting key chunk: %w", err)
		}
		wrapped = binary.LittleEndian.AppendUint32(wrapped, uint32(len(ciphertext)))
		wrapped = append(wrapped, ciphertext...)
		key = key[n:]
	}
	return wrapped, nil
}

// UnwrapKey recovers a session key wrapped by WrapKey. A declared chunk
// length past the end of the buffer is shared.ErrMalformedKeyWrap; a chunk
// that fails to decrypt (wrong key, corruption, tampering) is
// shared.ErrDecrypt.
func UnwrapKey(wrapped []byte, local *rsa.PrivateKey) ([]byte, error) {
	if local == nil {
		return nil, shared.ErrNoPrivateKey
	}
	var key []byte
	for len(wrapped) > 0 {
		if len(wrapped) < chunkHeaderSize {
			return nil, shared.ErrMalformedKeyWrap
		}
		n := binary.LittleEndian.Uint32(wrapped[:chunkHeaderSize])
		wrapped = wrapped[chunkHeaderSize:]
		if uint64(n) > uint64(len(wrapped)) {
			return nil, shared.ErrMalformedKeyWrap
		}
		plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, local, wrapped[:n], nil)
		if err != nil {
			return nil, shared.ErrDecrypt
		}
		key = append(key, plaintext...)
		wrapped = wrapped[n:]
	}
	return key, nil
}
