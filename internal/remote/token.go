package remote

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/GabrielHori/horizon-worker/internal/crypto"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// tokenAssociatedData is the associated-data label tunnel tokens are
// encrypted under (spec.md §3's "Token Material").
const tokenAssociatedData = "tunnel_auth_token"

const (
	minCustomTokenLen = 8
	maxCustomTokenLen = 32
)

// Record is the persisted shape of a tunnel bearer token: only its hash is
// ever written to disk, never the clear value.
type Record struct {
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r Record) expired(now time.Time) bool {
	return r.Hash == "" || (!r.ExpiresAt.IsZero() && now.After(r.ExpiresAt))
}

// TokenStore owns the single active bearer token for the remote-access
// surface, following convstore/memory/project's single-file,
// optional-envelope-encryption, whole-file-replacement discipline.
type TokenStore struct {
	mu   sync.Mutex
	path string
	keys *crypto.KeyStore
}

// NewTokenStore returns a TokenStore backed by <dir>/tunnel_config.json,
// which holds only the token record. keys may be nil to disable at-rest
// encryption.
func NewTokenStore(dir string, keys *crypto.KeyStore) (*TokenStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create tunnel dir: %w", err)
	}
	return &TokenStore{path: filepath.Join(dir, "tunnel_config.json"), keys: keys}, nil
}

func (s *TokenStore) load() (Record, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	content := string(raw)

	var rec Record
	if crypto.IsEnvelope(content) {
		if s.keys == nil || !s.keys.HasKey() {
			return Record{}, horizon.ErrNoMasterKey
		}
		plain, err := s.keys.DecryptEnvelope(content, []byte(tokenAssociatedData))
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
		if err := json.Unmarshal(plain, &rec); err != nil {
			return Record{}, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
		return rec, nil
	}
	if len(raw) == 0 {
		return Record{}, nil
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *TokenStore) save(rec Record) error {
	plain, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	wasEncrypted, err := peekEncryptedFile(s.path)
	if err != nil {
		return err
	}
	encrypt := s.keys != nil && s.keys.HasKey()
	if wasEncrypted && !encrypt {
		return horizon.ErrWouldDowngrade
	}

	var out []byte
	if encrypt {
		envelope, err := s.keys.EncryptEnvelope(plain, []byte(tokenAssociatedData))
		if err != nil {
			return err
		}
		out = []byte(envelope)
	} else {
		out = plain
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func peekEncryptedFile(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return crypto.IsEnvelope(string(raw)), nil
}

// Generate mints a new 256-bit random token, persists only its hash plus
// an expiry expiresHours from now (0 means never expires), and returns the
// clear token exactly once.
func (s *TokenStore) Generate(expiresHours int) (string, Record, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", Record{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	return s.set(token, expiresHours)
}

// SetCustom installs a caller-chosen token, rejecting it unless its length
// is in [8,32] and it contains at least one uppercase letter, one lowercase
// letter, and one digit (spec.md §4.11).
func (s *TokenStore) SetCustom(token string, expiresHours int) (Record, error) {
	if !validCustomToken(token) {
		return Record{}, fmt.Errorf("%w: custom token must be 8-32 chars with upper, lower, and digit", horizon.ErrValidation)
	}
	_, rec, err := s.set(token, expiresHours)
	return rec, err
}

// ValidCustomToken reports whether token satisfies the shape SetCustom
// requires, without installing it -- backs tunnel_validate_custom_token,
// which checks a candidate before the caller commits to it.
func ValidCustomToken(token string) bool {
	return validCustomToken(token)
}

func validCustomToken(token string) bool {
	if len(token) < minCustomTokenLen || len(token) > maxCustomTokenLen {
		return false
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range token {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}

func (s *TokenStore) set(token string, expiresHours int) (string, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec := Record{Hash: crypto.HashToken(token), CreatedAt: now}
	if expiresHours > 0 {
		rec.ExpiresAt = now.Add(time.Duration(expiresHours) * time.Hour)
	}
	if err := s.save(rec); err != nil {
		return "", Record{}, err
	}
	return token, rec, nil
}

// Validate reports whether token is the current active token and has not
// expired. Comparison is constant-time over the hash digests.
func (s *TokenStore) Validate(token string) bool {
	s.mu.Lock()
	rec, err := s.load()
	s.mu.Unlock()
	if err != nil || rec.expired(time.Now()) {
		return false
	}
	got := crypto.HashToken(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(rec.Hash)) == 1
}

// Clear revokes the active token.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(Record{})
}

// Current returns the active token's metadata (never the clear value).
func (s *TokenStore) Current() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value, returning "" if the header is absent or malformed.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
