// Package secrets provides age-based encryption for credentials at rest,
// primarily the release publishing token.
package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"filippo.io/age"

	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/internal/store/postgres"
)

var (
	// ErrNoPublicKey is returned when no public key is configured for encryption.
	ErrNoPublicKey = errors.New("no public key configured for encryption")
	// ErrNoPrivateKey is returned when no private key is configured for decryption.
	ErrNoPrivateKey = errors.New("no private key configured for decryption")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed is returned when encryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrInvalidKey is returned when a key is invalid.
	ErrInvalidKey = errors.New("invalid key format")
	// ErrNoToken is returned when no release token has been stored.
	ErrNoToken = errors.New("no release token stored")
)

// releaseTokenKey is the settings key the encrypted token is stored under.
const releaseTokenKey = "release_token"

// Vault encrypts and decrypts secrets with age X25519 keys. The API server
// only needs the public key to store tokens; decryption requires the private
// key and is confined to the process that publishes releases.
type Vault struct {
	publicKey  *age.X25519Recipient
	privateKey *age.X25519Identity
	logger     *slog.Logger
}

// Config holds the key material for the vault.
type Config struct {
	// AgePublicKey is the age public key for encryption.
	// Format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey is the age private key for decryption.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string
}

// NewVault creates a vault from the given keys. At least one of public key
// (for encryption) or private key (for decryption) must be provided.
func NewVault(cfg *Config, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := &Vault{logger: logger}

	if cfg.AgePublicKey != "" {
		recipient, err := age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidKey, err)
		}
		v.publicKey = recipient
	}

	if cfg.AgePrivateKey != "" {
		identity, err := age.ParseX25519Identity(cfg.AgePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key: %v", ErrInvalidKey, err)
		}
		v.privateKey = identity
	}

	if v.publicKey == nil && v.privateKey == nil {
		return nil, fmt.Errorf("%w: no keys configured", ErrInvalidKey)
	}

	// A private key implies its public half.
	if v.publicKey == nil {
		v.publicKey = v.privateKey.Recipient()
	}

	return v, nil
}

// Encrypt encrypts plaintext with the configured public key.
func (v *Vault) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if v.publicKey == nil {
		return nil, ErrNoPublicKey
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, v.publicKey)
	if err != nil {
		v.logger.Error("failed to create age encryptor", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return buf.Bytes(), nil
}

// Decrypt decrypts age ciphertext with the configured private key.
func (v *Vault) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if v.privateKey == nil {
		return nil, ErrNoPrivateKey
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), v.privateKey)
	if err != nil {
		v.logger.Error("failed to create age decryptor", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// CanEncrypt reports whether the vault is configured for encryption.
func (v *Vault) CanEncrypt() bool {
	return v.publicKey != nil
}

// CanDecrypt reports whether the vault is configured for decryption.
func (v *Vault) CanDecrypt() bool {
	return v.privateKey != nil
}

// StoreReleaseToken encrypts the release publishing token and persists it in
// the settings store, base64 encoded.
func (v *Vault) StoreReleaseToken(ctx context.Context, settings store.SettingsStore, token string) error {
	ciphertext, err := v.Encrypt(ctx, []byte(token))
	if err != nil {
		return fmt.Errorf("encrypting release token: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	if err := settings.Set(ctx, releaseTokenKey, encoded); err != nil {
		return fmt.Errorf("storing release token: %w", err)
	}

	v.logger.Info("release token stored")
	return nil
}

// LoadReleaseToken fetches and decrypts the release publishing token.
// Returns ErrNoToken when no token has ever been stored.
func (v *Vault) LoadReleaseToken(ctx context.Context, settings store.SettingsStore) (string, error) {
	encoded, err := settings.Get(ctx, releaseTokenKey)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("loading release token: %w", err)
	}
	if encoded == "" {
		return "", ErrNoToken
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding release token: %w", err)
	}

	plaintext, err := v.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypting release token: %w", err)
	}

	return string(plaintext), nil
}

// GenerateKeyPair generates a new age key pair.
// Returns the public key (for encryption) and private key (for decryption).
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate age key pair: %w", err)
	}
	return identity.Recipient().String(), identity.String(), nil
}
