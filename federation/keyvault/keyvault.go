// Package keyvault implements authenticated encryption at rest for actor
// private keys (spec.md component 4.1, KeyVault).
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kekSalt       = "federation_key_encryption"
	kekIterations = 100_000
	kekKeyLen     = 32 // AES-256
	nonceLen      = 12
	tagLen        = 16
	aad           = "apcore-federation-key"
)

// ErrDecryptFailed is returned for any tamper, truncation, or wrong-KEK
// condition. It is intentionally opaque: spec.md 4.1 requires a single
// failure mode with no detail leaked to the caller.
var ErrDecryptFailed = errors.New("keyvault: decryption failed")

// Vault derives a single AES-256-GCM key encryption key (KEK) from a host
// master secret and uses it to seal/open actor private key PEMs.
type Vault struct {
	kek []byte
}

// New derives the KEK from masterSecret. An empty masterSecret still
// produces a (non-secret) KEK so the vault remains usable in dev/test;
// callers in production must supply a real secret.
func New(masterSecret string) *Vault {
	kek := pbkdf2.Key([]byte(masterSecret), []byte(kekSalt), kekIterations, kekKeyLen, sha256.New)
	return &Vault{kek: kek}
}

// Encrypt seals plaintext (a PEM-encoded private key) into the blob layout
// IV(12) || CIPHERTEXT || TAG(16): the tag follows the ciphertext, as
// cipher.AEAD.Seal emits it, rather than sitting between IV and ciphertext.
// A fresh random IV is generated per call.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.kek)
	if err != nil {
		return nil, fmt.Errorf("keyvault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, fmt.Errorf("keyvault: new gcm: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keyvault: read nonce: %w", err)
	}
	// Seal returns ciphertext||tag; the nonce is prepended below.
	sealed := gcm.Seal(nil, nonce, plaintext, []byte(aad))
	out := make([]byte, 0, nonceLen+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. Any tamper, truncation, or wrong
// KEK yields ErrDecryptFailed and nothing else.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < nonceLen+tagLen {
		return nil, ErrDecryptFailed
	}
	block, err := aes.NewCipher(v.kek)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	nonce := blob[:nonceLen]
	rest := blob[nonceLen:]
	plaintext, err := gcm.Open(nil, nonce, rest, []byte(aad))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
