// Package vault wraps the account session credential so it can pass
// through shared storage without ever being written in plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the exact length of the raw key material expected in
	// ENCRYPTION_KEY. Anything else is a hard failure, never a silent
	// empty credential.
	KeySize = 64

	aesKeySize   = 32
	gcmNonceSize = 12

	hkdfSalt = "overcast-mirror-vault"
	hkdfInfo = "credential-encryption-v1"
)

// CryptoError is fatal: a broken key or inconsistent ciphertext makes
// every subsequent authenticated fetch meaningless, so the run aborts.
type CryptoError struct {
	Reason string
	Err    error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault: %s: %v", e.Reason, e.Err)
	}
	return "vault: " + e.Reason
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Credential is the session cookie in sealed form. The plaintext exists
// only in memory, for the lifetime of outgoing requests.
type Credential struct {
	Ciphertext []byte
	Nonce      []byte
}

// Unlock seals a raw session cookie under the run's key.
func Unlock(rawCookie string, key []byte) (Credential, error) {
	aead, err := NewCipher(key)
	if err != nil {
		return Credential{}, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Credential{}, &CryptoError{Reason: "nonce generation failed", Err: err}
	}

	return Credential{
		Ciphertext: aead.Seal(nil, nonce, []byte(rawCookie), nil),
		Nonce:      nonce,
	}, nil
}

// Reveal returns the usable cookie for request construction. A
// ciphertext/nonce mismatch (for example after key rotation) is a
// CryptoError, not an empty credential.
func Reveal(cred Credential, key []byte) (string, error) {
	aead, err := NewCipher(key)
	if err != nil {
		return "", err
	}

	if len(cred.Nonce) != gcmNonceSize {
		return "", &CryptoError{Reason: fmt.Sprintf("nonce must be %d bytes, got %d", gcmNonceSize, len(cred.Nonce))}
	}

	plaintext, err := aead.Open(nil, cred.Nonce, cred.Ciphertext, nil)
	if err != nil {
		return "", &CryptoError{Reason: "credential decryption failed", Err: err}
	}
	return string(plaintext), nil
}

// NewCipher derives the run's AEAD from raw key material. The same
// cipher encrypts the response cache, so the key length check guards
// both.
func NewCipher(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, &CryptoError{Reason: fmt.Sprintf("key must be exactly %d bytes, got %d", KeySize, len(key))}
	}

	derived := make([]byte, aesKeySize)
	r := hkdf.New(sha256.New, key, []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, &CryptoError{Reason: "key derivation failed", Err: err}
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, &CryptoError{Reason: "cipher construction failed", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CryptoError{Reason: "gcm construction failed", Err: err}
	}
	return aead, nil
}

// GenerateKey produces fresh key material of the expected length,
// base64 so it survives an env file.
func GenerateKey() (string, error) {
	raw := make([]byte, KeySize/4*3) // base64 expands 48 -> 64
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", &CryptoError{Reason: "key generation failed", Err: err}
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
