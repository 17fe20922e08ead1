// Package crypto implements the envelope encryption used by the
// conversation store and token material: AES-256-GCM with a key derived
// from a user password via PBKDF2-HMAC-SHA256 (spec.md §3's data model
// for `ENC:`-prefixed records), grounded on
// original_source/worker/services/crypto_service.py.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// EncPrefix marks a record as an encrypted envelope on disk.
const EncPrefix = "ENC:"

const (
	pbkdf2Iterations = 100_000
	keyLength        = 32 // AES-256
	nonceLength      = 12
	saltLength       = 16
)

// KeyStore holds the process-wide master key derived from the user's
// password. It is held only in memory (spec.md §3's "persistence is
// forbidden" invariant) and is safe for concurrent use.
type KeyStore struct {
	mu  sync.RWMutex
	key []byte
}

// NewKeyStore returns a KeyStore with no key set.
func NewKeyStore() *KeyStore { return &KeyStore{} }

// SetPassword derives and stores the master key from password and salt
// using PBKDF2-HMAC-SHA256 with 100,000 iterations.
func (s *KeyStore) SetPassword(password string, salt []byte) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if len(salt) != saltLength {
		return fmt.Errorf("salt must be %d bytes, got %d", saltLength, len(salt))
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLength, sha256.New)
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

// Clear overwrites and drops the master key from memory.
func (s *KeyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}

// HasKey reports whether a master key is currently set.
func (s *KeyStore) HasKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

func (s *KeyStore) currentKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, errNoMasterKey
	}
	return s.key, nil
}

var errNoMasterKey = errors.New("master key not set")

// NewSalt generates a fresh random 16-byte salt suitable for SetPassword.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext under the current master key with AES-256-GCM,
// returning base64(nonce ‖ ciphertext ‖ tag). associatedData, if non-empty,
// is authenticated but not encrypted.
func (s *KeyStore) Encrypt(plaintext, associatedData []byte) (string, error) {
	key, err := s.currentKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new GCM: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, associatedData)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64(nonce ‖ ciphertext ‖ tag) envelope under the
// current master key.
func (s *KeyStore) Decrypt(encoded string, associatedData []byte) ([]byte, error) {
	key, err := s.currentKey()
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 data: %w", err)
	}
	if len(raw) < nonceLength {
		return nil, errors.New("encrypted data too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new GCM: %w", err)
	}
	nonce, ciphertext := raw[:nonceLength], raw[nonceLength:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// EncryptEnvelope encrypts plaintext and prefixes the result with
// EncPrefix, the on-disk marker for an encrypted record.
func (s *KeyStore) EncryptEnvelope(plaintext, associatedData []byte) (string, error) {
	sealed, err := s.Encrypt(plaintext, associatedData)
	if err != nil {
		return "", err
	}
	return EncPrefix + sealed, nil
}

// DecryptEnvelope strips EncPrefix and decrypts the remainder. It is an
// error to call this on a record that does not carry the prefix -- callers
// must check IsEnvelope first (spec.md §3: "a file without the prefix is
// plaintext and MUST NOT be decrypted").
func (s *KeyStore) DecryptEnvelope(record string, associatedData []byte) ([]byte, error) {
	if !IsEnvelope(record) {
		return nil, errors.New("record is not an encrypted envelope")
	}
	return s.Decrypt(record[len(EncPrefix):], associatedData)
}

// IsEnvelope reports whether record carries the ENC: prefix.
func IsEnvelope(record string) bool {
	return len(record) >= len(EncPrefix) && record[:len(EncPrefix)] == EncPrefix
}

// HashPassword returns the hex-encoded SHA-256 digest of password, used for
// storage-only comparisons (never for key derivation).
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword reports whether password hashes to hash.
func VerifyPassword(password, hash string) bool {
	return HashPassword(password) == hash
}

// HashToken returns the hex-encoded SHA-256 digest of a clear token
// (spec.md §3's "Token Material": "sha256 hex of the clear token").
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
