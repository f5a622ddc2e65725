package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher шифрует секреты источников перед записью в базу.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Enabled() bool
}

// NewCipher builds an XChaCha20-Poly1305 cipher from a base64 32-byte key.
// An empty key yields a passthrough cipher; losing a real key makes stored secrets unrecoverable.
func NewCipher(key string) (Cipher, error) {
	if key == "" {
		return plainCipher{}, nil
	}
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return nil, fmt.Errorf("init credential cipher: %w", err)
	}
	return &aeadCipher{aead: aead}, nil
}

// GenerateKey returns a fresh base64 key suitable for NewCipher.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func decodeKey(key string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(key); err == nil && len(raw) == chacha20poly1305.KeySize {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("encryption key must be %d bytes, base64 encoded", chacha20poly1305.KeySize)
}

type aeadCipher struct {
	aead cipher.AEAD
}

func (c *aeadCipher) Enabled() bool { return true }

func (c *aeadCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

var ErrDecrypt = errors.New("cannot decrypt stored secret")

func (c *aeadCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < c.aead.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

type plainCipher struct{}

func (plainCipher) Enabled() bool { return false }

func (plainCipher) Encrypt(plaintext string) (string, error) { return plaintext, nil }

func (plainCipher) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
