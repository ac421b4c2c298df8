package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// MasterKeyEnv names the environment variable holding the master secret.
	MasterKeyEnv = "ACCOUNTSYNC_MASTER_KEY"
)

// ErrUnresolvableCredential marks stored secrets that cannot be decrypted,
// typically legacy bcrypt hashes migrated from an older deployment.
var ErrUnresolvableCredential = errors.New("stored credential is not decryptable")

// Manager handles encryption and decryption of stored credentials.
// Ciphertext format: base64(nonce || AES-256-GCM(plaintext)).
type Manager struct {
	key [32]byte
}

// NewManager creates a credential cipher from the master key environment variable.
func NewManager() (*Manager, error) {
	secret := os.Getenv(MasterKeyEnv)
	if secret == "" {
		return nil, fmt.Errorf("master key is required - set %s", MasterKeyEnv)
	}
	return NewManagerWithKey(secret), nil
}

// NewManagerWithKey creates a credential cipher from an explicit secret.
func NewManagerWithKey(secret string) *Manager {
	return &Manager{key: sha256.Sum256([]byte(secret))}
}

// EncryptPassword encrypts a plaintext password for storage.
func (m *Manager) EncryptPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("payload is required")
	}

	block, err := aes.NewCipher(m.key[:])
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to initialize GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptPassword decrypts a stored ciphertext. Legacy bcrypt hashes are
// refused with ErrUnresolvableCredential so callers can surface a
// configuration error instead of a connection failure.
func (m *Manager) DecryptPassword(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if IsLegacyHash(ciphertext) {
		return "", ErrUnresolvableCredential
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: not base64 encoded", ErrUnresolvableCredential)
	}

	block, err := aes.NewCipher(m.key[:])
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to initialize GCM: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrUnresolvableCredential)
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvableCredential, err)
	}

	return string(plaintext), nil
}

// IsLegacyHash reports whether a stored value is a bcrypt-style hash rather
// than a recoverable ciphertext.
func IsLegacyHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") ||
		strings.HasPrefix(value, "$2b$") ||
		strings.HasPrefix(value, "$2y$")
}
