// Package keystore manages the lifecycle of RSA actor keypairs (spec.md
// component 4.2, KeyStore), storing private keys through a KeyVault and
// public keys in PEM SubjectPublicKeyInfo form.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/deemkeen/apcore/domain"
	"github.com/deemkeen/apcore/federation/keyvault"
)

// ErrNotFound is returned by a Store when no key material exists yet for a
// subject; EnsureKeypair treats it as "create new", everything else treats
// it as a real error.
var ErrNotFound = errors.New("keystore: key material not found")

// Store persists LocalActorKeyMaterial rows, one per subject (site, user or
// board actor URI) behind this one interface, mirroring the
// Database-interface DI idiom used
// throughout the rest of this codebase (activitypub.Database).
type Store interface {
	LoadKeyMaterial(subject string) (*domain.LocalActorKeyMaterial, error)
	SaveKeyMaterial(m *domain.LocalActorKeyMaterial) error
}

// KeyStore generates, stores, and rotates RSA-2048 actor keypairs.
type KeyStore struct {
	vault *keyvault.Vault
	store Store
}

func New(vault *keyvault.Vault, store Store) *KeyStore {
	return &KeyStore{vault: vault, store: store}
}

// EnsureKeypair returns the existing keypair for subject, generating and
// persisting a new RSA-2048 keypair if none exists yet. Safe to call
// concurrently for different subjects; callers serialize per-subject calls
// through their own store transaction if racing creation must be avoided.
func (k *KeyStore) EnsureKeypair(subject string) (*domain.LocalActorKeyMaterial, error) {
	existing, err := k.store.LoadKeyMaterial(subject)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("keystore: load %s: %w", subject, err)
	}
	return k.generateAndStore(subject)
}

// RotateKeypair always generates fresh material for subject, replacing
// whatever was stored before. It does not purge any in-flight cached
// signer referencing the old key (spec.md 4.2): callers must re-fetch the
// private PEM after rotation.
func (k *KeyStore) RotateKeypair(subject string) (*domain.LocalActorKeyMaterial, error) {
	return k.generateAndStore(subject)
}

func (k *KeyStore) generateAndStore(subject string) (*domain.LocalActorKeyMaterial, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate rsa key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})

	encrypted, err := k.vault.Encrypt(privPEM)
	if err != nil {
		return nil, fmt.Errorf("keystore: encrypt private key: %w", err)
	}

	m := &domain.LocalActorKeyMaterial{
		Subject:             subject,
		PublicKeyPEM:        string(pubPEM),
		PrivateKeyEncrypted: encrypted,
	}
	if err := k.store.SaveKeyMaterial(m); err != nil {
		return nil, fmt.Errorf("keystore: save %s: %w", subject, err)
	}
	return m, nil
}

// GetPublicPEM returns the subject's current public key PEM.
func (k *KeyStore) GetPublicPEM(subject string) (string, error) {
	m, err := k.store.LoadKeyMaterial(subject)
	if err != nil {
		return "", err
	}
	return m.PublicKeyPEM, nil
}

// DecryptPrivatePEM returns the subject's current private key PEM,
// decrypted through the KeyVault.
func (k *KeyStore) DecryptPrivatePEM(subject string) (string, error) {
	m, err := k.store.LoadKeyMaterial(subject)
	if err != nil {
		return "", err
	}
	plaintext, err := k.vault.Decrypt(m.PrivateKeyEncrypted)
	if err != nil {
		return "", fmt.Errorf("keystore: decrypt %s: %w", subject, err)
	}
	return string(plaintext), nil
}
