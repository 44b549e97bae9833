// Package keyring implements envelope encryption for certificate material.
// Each certificate gets a random data key (XChaCha20-Poly1305); the data key
// is stored wrapped to the master age X25519 identity.
package keyring

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrMasterKeyRequired  = errors.New("master_key_required")
	ErrCiphertextTooShort = errors.New("ciphertext_too_short")
)

// DataKey is a plaintext data-encryption key. Callers drop it as soon as the
// sealing or opening is done.
type DataKey []byte

type Keyring struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// New parses an AGE-SECRET-KEY-1... master identity.
func New(masterKey string) (*Keyring, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, ErrMasterKeyRequired
	}
	identity, err := age.ParseX25519Identity(masterKey)
	if err != nil {
		return nil, fmt.Errorf("parse master key: %w", err)
	}
	return &Keyring{identity: identity, recipient: identity.Recipient()}, nil
}

// Ephemeral builds a keyring around a throwaway identity. Data sealed with it
// cannot be opened after the process exits.
func Ephemeral() (*Keyring, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return &Keyring{identity: identity, recipient: identity.Recipient()}, nil
}

// Recipient is the public half of the master identity (age1...).
func (k *Keyring) Recipient() string {
	return k.recipient.String()
}

// NewDataKey returns a fresh data key and its wrapped form for storage.
func (k *Keyring) NewDataKey() (DataKey, []byte, error) {
	dek := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, nil, fmt.Errorf("generate data key: %w", err)
	}

	var wrapped bytes.Buffer
	w, err := age.Encrypt(&wrapped, k.recipient)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap data key: %w", err)
	}
	if _, err := w.Write(dek); err != nil {
		return nil, nil, fmt.Errorf("wrap data key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("wrap data key: %w", err)
	}
	return dek, wrapped.Bytes(), nil
}

// Unwrap recovers a data key produced by NewDataKey.
func (k *Keyring) Unwrap(wrapped []byte) (DataKey, error) {
	r, err := age.Decrypt(bytes.NewReader(wrapped), k.identity)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	dek, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	if len(dek) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("unwrap data key: unexpected length %d", len(dek))
	}
	return dek, nil
}

// Seal encrypts plaintext under dek. The output is nonce || ciphertext.
func Seal(dek DataKey, plaintext, associated []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, associated), nil
}

func Open(dek DataKey, sealed, associated []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, associated)
}
