package storage

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

var errSecretTampered = errors.New("storage: sealed secret failed authentication")

// SecretBox seals driver secrets before they reach the database. A nil
// SecretBox, or one without a key, stores them as plaintext.
type SecretBox struct {
	key *[32]byte
}

// NewSecretBox creates a SecretBox. key may be nil.
func NewSecretBox(key *[32]byte) *SecretBox {
	return &SecretBox{key: key}
}

// Seal encrypts plaintext. Empty input stays empty.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if b == nil || b.key == nil || plaintext == "" {
		return plaintext, nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, b.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values written before a key was configured are
// returned unchanged.
func (b *SecretBox) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if b == nil || b.key == nil {
		return "", errors.New("storage: sealed secret found but no secrets key is configured")
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(raw) < 24 {
		return "", errSecretTampered
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, b.key)
	if !ok {
		return "", errSecretTampered
	}
	return string(plain), nil
}
