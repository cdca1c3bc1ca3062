// Package crypto encrypts secure configuration values with the server secret.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	keySize = 32

	// encryptedPrefix marks values produced by AESCipher.
	encryptedPrefix = "AES:"
)

// ErrInvalidCipherText is returned when a value cannot be decrypted with the
// current server secret.
var ErrInvalidCipherText = errors.New("invalid cipher text")

// Cipher encrypts and decrypts configuration values.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(encrypted string) (string, error)
}

// AEAD provides authenticated encryption with associated data using
// AES-256-GCM.
type AEAD struct {
	key []byte
}

// NewAEAD creates an AEAD with the provided 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key length: got %d, want %d", len(key), keySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &AEAD{key: k}, nil
}

func (a *AEAD) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(a.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns the random nonce and the ciphertext.
func (a *AEAD) Seal(plaintext, aad []byte) (nonce, sealed []byte, err error) {
	g, err := a.gcm()
	if err != nil {
		return nil, nil, err
	}
	nonce, err = RandomBytes(g.NonceSize())
	if err != nil {
		return nil, nil, err
	}
	return nonce, g.Seal(nil, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func (a *AEAD) Open(nonce, sealed, aad []byte) ([]byte, error) {
	g, err := a.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != g.NonceSize() {
		return nil, ErrInvalidCipherText
	}
	return g.Open(nil, nonce, sealed, aad)
}

// Zeroize clears key material.
func (a *AEAD) Zeroize() {
	if a == nil {
		return
	}
	for i := range a.key {
		a.key[i] = 0
	}
}

// AESCipher is the process-wide Cipher for secure configuration properties.
// Encrypted values look like "AES:<base64 nonce>:<base64 ciphertext>".
type AESCipher struct {
	aead *AEAD
}

// NewAESCipher builds a Cipher from the server secret.
func NewAESCipher(key []byte) (*AESCipher, error) {
	aead, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return &AESCipher{aead: aead}, nil
}

// NewAESCipherFromOptions loads the server secret and builds a Cipher.
func NewAESCipherFromOptions(opts KEKOptions) (*AESCipher, error) {
	key, err := LoadOrGenerateKEK(opts)
	if err != nil {
		return nil, err
	}
	return NewAESCipher(key)
}

// Encrypt implements Cipher.
func (c *AESCipher) Encrypt(plain string) (string, error) {
	nonce, sealed, err := c.aead.Seal([]byte(plain), nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt value: %w", err)
	}
	return encryptedPrefix + base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt implements Cipher.
func (c *AESCipher) Decrypt(encrypted string) (string, error) {
	if !strings.HasPrefix(encrypted, encryptedPrefix) {
		return "", ErrInvalidCipherText
	}
	parts := strings.SplitN(strings.TrimPrefix(encrypted, encryptedPrefix), ":", 2)
	if len(parts) != 2 {
		return "", ErrInvalidCipherText
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidCipherText
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidCipherText
	}
	plain, err := c.aead.Open(nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCipherText, err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether v carries the AESCipher prefix.
func IsEncrypted(v string) bool {
	return strings.HasPrefix(v, encryptedPrefix)
}
