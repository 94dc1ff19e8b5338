package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize   = 32
	nonceSize = 16
	tagSize   = 16
)

// ErrDecryptionFailed marks any failure to recover a plaintext: malformed
// envelope, truncated fields, or authentication-tag mismatch. Callers use it
// to distinguish "treat as disconnected" from fatal misconfiguration, so it
// must never surface as a generic error.
var ErrDecryptionFailed = errors.New("secrets: decryption failed")

// Cipher performs authenticated encryption of secrets at rest with a single
// 256-bit key. Envelopes are textual: three colon-separated lowercase-hex
// fields holding nonce, authentication tag, and ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a 64-hex-character key. A missing or
// wrong-length key is a fatal configuration error, not a retryable one.
func NewCipher(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return nil, errors.New("secrets: master key is not set")
	}
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("secrets: master key is not valid hex: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: master key must be %d hex characters, got %d", keySize*2, len(hexKey))
	}
	return NewCipherFromKey(key)
}

// NewCipherFromKey builds a cipher from raw key bytes. Used by the locker,
// which derives its key from a passphrase instead of the environment.
func NewCipherFromKey(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext with a fresh random nonce and returns the
// textual envelope.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope produced by Encrypt. Every failure mode wraps
// ErrDecryptionFailed.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	nonce, tag, ciphertext, err := splitEnvelope(envelope)
	if err != nil {
		return "", err
	}
	plaintext, err := c.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// IsEncrypted recognizes well-formed envelopes. It exists to tell legacy
// plaintext rows apart from encrypted ones during migration, so it checks
// shape only and never touches the key.
func IsEncrypted(value string) bool {
	_, _, _, err := splitEnvelope(value)
	return err == nil
}

func splitEnvelope(envelope string) (nonce, tag, ciphertext []byte, err error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	// An empty third field is legal: the empty plaintext seals to a
	// tag-only envelope.
	if len(parts[0]) != nonceSize*2 || len(parts[1]) != tagSize*2 {
		return nil, nil, nil, fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if nonce, err = hex.DecodeString(parts[0]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if tag, err = hex.DecodeString(parts[1]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if ciphertext, err = hex.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	return nonce, tag, ciphertext, nil
}
