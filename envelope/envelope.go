// Package envelope decides how chat message content is persisted.
// Content is an opaque blob to the rest of the system: either plaintext
// passthrough or an {iv,data} ciphertext envelope, selected at startup.
package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Codec seals message content before it is persisted and opens it when a
// transcript is read back.
type Codec interface {
	Seal(plaintext string) (string, error)
	Open(blob string) (string, error)
}

// Plain is the passthrough codec: content is stored as-is.
type Plain struct{}

// Seal returns the plaintext unchanged.
func (Plain) Seal(plaintext string) (string, error) { return plaintext, nil }

// Open returns the stored blob unchanged.
func (Plain) Open(blob string) (string, error) { return blob, nil }

type sealedContent struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// ChaCha seals content with ChaCha20-Poly1305 into a JSON {iv,data}
// envelope of base64 fields.
type ChaCha struct {
	key []byte
}

// NewChaCha builds a ChaCha codec from a 32-byte key.
func NewChaCha(key []byte) (*ChaCha, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("content key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &ChaCha{key: k}, nil
}

// Seal encrypts plaintext under a fresh nonce.
func (c *ChaCha) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	b, err := json.Marshal(sealedContent{
		IV:   base64.StdEncoding.EncodeToString(nonce),
		Data: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Open decrypts an {iv,data} envelope. Blobs that do not parse as an
// envelope are returned as-is: older sessions may hold plaintext under
// the same field.
func (c *ChaCha) Open(blob string) (string, error) {
	var sc sealedContent
	if err := json.Unmarshal([]byte(blob), &sc); err != nil || sc.IV == "" || sc.Data == "" {
		return blob, nil
	}
	nonce, err := base64.StdEncoding.DecodeString(sc.IV)
	if err != nil {
		return "", fmt.Errorf("failed to decode envelope iv: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(sc.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode envelope data: %w", err)
	}
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open envelope: %w", err)
	}
	return string(plain), nil
}

// FromKey selects the codec for the configured content key: empty key
// means plaintext passthrough, anything else must be a valid 32-byte
// base64 key.
func FromKey(encodedKey string) (Codec, error) {
	if encodedKey == "" {
		return Plain{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("content key is not valid base64: %w", err)
	}
	return NewChaCha(key)
}
