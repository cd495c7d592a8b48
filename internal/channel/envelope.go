package channel

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// Envelope version prefixes. v1 bodies are sealed with the
	// agreement's channel key; v0 bodies were stored before a channel
	// existed and are never surfaced as plaintext.
	sealedPrefix   = "v1:"
	unsealedPrefix = "v0:"

	nonceSize = 12
	tagSize   = 16

	// KeySize is the channel key length in bytes.
	KeySize = chacha20poly1305.KeySize
)

// NewKey generates a fresh 32-byte channel key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts a message body with the channel key and returns the
// envelope string. With a nil key the body is wrapped unencrypted as
// a v0 envelope so that ledger writes never fail for lack of a
// channel.
//
// Wire format (v1): "v1:" + base64(nonce[12] + ciphertext + tag[16])
func Seal(key []byte, plaintext string) (string, error) {
	if key == nil {
		return unsealedPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("invalid channel key: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	wire := make([]byte, 0, nonceSize+len(ciphertext))
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)

	return sealedPrefix + base64.StdEncoding.EncodeToString(wire), nil
}

// Open decrypts an envelope with the channel key. It never returns an
// error: any failure (nil key, v0 envelope, rotated key, tampered
// ciphertext, malformed wire data) degrades to ("", false) so that a
// partially unreadable conversation can still be listed and audited.
func Open(key []byte, envelope string) (string, bool) {
	if !strings.HasPrefix(envelope, sealedPrefix) {
		return "", false
	}
	if key == nil {
		return "", false
	}

	wire, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, sealedPrefix))
	if err != nil {
		return "", false
	}
	if len(wire) < nonceSize+tagSize {
		return "", false
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", false
	}

	plaintext, err := aead.Open(nil, wire[:nonceSize], wire[nonceSize:], nil)
	if err != nil {
		return "", false
	}

	return string(plaintext), true
}
