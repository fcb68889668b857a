package secure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultKeyBits is the RSA modulus size for newly generated identities.
const DefaultKeyBits = 2048

const keyPEMType = "RSA PRIVATE KEY"

// LoadKeyPair reads a PEM-encoded private key from path.
func LoadKeyPair(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != keyPEMType {
		return nil, fmt.Errorf("no %s block in %s", keyPEMType, path)
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// SaveKeyPair writes the private key as PEM, readable only by the owner.
func SaveKeyPair(path string, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	block := &pem.Block{
		Type:  keyPEMType,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

// GetOrCreateKeyPair loads the persisted local key pair, generating and
// saving a fresh one when the file is missing or unreadable. The key pair
// is the long-lived identity peers wrap session keys to.
func GetOrCreateKeyPair(path string) (*rsa.PrivateKey, error) {
	if key, err := LoadKeyPair(path); err == nil {
		return key, nil
	}
	key, err := rsa.GenerateKey(rand.Reader, DefaultKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	if err := SaveKeyPair(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncodePublicKey serializes a public key for relay transmission.
func EncodePublicKey(pub *rsa.PublicKey) string {
	return base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(pub))
}

// DecodePublicKey parses a relay-transmitted public key. An empty string
// yields a nil key, not an error: peers may join before publishing one.
func DecodePublicKey(encoded string) (*rsa.PublicKey, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	return x509.ParsePKCS1PublicKey(raw)
}
