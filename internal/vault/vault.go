// Package vault encrypts session delegate keys at rest.
//
// Blob layout: base64(nonce[12] || tag[16] || ciphertext). The AEAD key is an
// HKDF-SHA256 subkey of the configured master key, so the master secret is
// never used directly as a cipher key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/streampay/backend/internal/apperr"
	"golang.org/x/crypto/hkdf"
)

const (
	masterKeySize = 32
	nonceSize     = 12
	tagSize       = 16
	subkeyInfo    = "streampay/session-delegate-key/v1"
)

var (
	ErrMissingKey = errors.New("session encryption key is not configured")
	ErrInvalidKey = errors.New("session encryption key must be 64 hex characters (32 bytes)")
)

type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a hex-encoded 32 byte master key.
func New(masterKeyHex string) (*Vault, error) {
	if masterKeyHex == "" {
		return nil, ErrMissingKey
	}
	master, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(master) != masterKeySize {
		return nil, ErrInvalidKey
	}

	subkey := make([]byte, masterKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(subkeyInfo)), subkey); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

func (v *Vault) Encrypt(raw []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext||tag; the stored layout puts the tag first.
	sealed := v.aead.Seal(nil, nonce, raw, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt fails with an apperr.KindIntegrity error on any malformed or
// tampered blob. It never returns partial plaintext.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, err, "encrypted key is not valid base64")
	}
	if len(data) < nonceSize+tagSize {
		return nil, apperr.New(apperr.KindIntegrity, "encrypted key is truncated")
	}

	nonce := data[:nonceSize]
	tag := data[nonceSize : nonceSize+tagSize]
	ct := data[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, err, "encrypted key failed authentication")
	}
	return plain, nil
}
