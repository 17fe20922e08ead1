// Package memory implements the three-tier memory store (user, project,
// session) described in spec.md's `memory_*` commands, grounded on
// original_source/worker/services/memory_service.py. Persistent tiers
// share the convstore's whole-file-replacement-with-optional-encryption
// discipline; session memory is process-memory-only and never encrypted.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GabrielHori/horizon-worker/internal/crypto"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// Scope identifies which of the three memory tiers an operation targets.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeSession Scope = "session"
)

// Entry is one stored memory value plus its bookkeeping metadata.
type Entry struct {
	Key       string         `json:"key"`
	Value     any            `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Summary is a listing entry with the value omitted (spec: "sans les
// valeurs pour la sécurité" -- listings never expose values).
type Summary struct {
	Key       string         `json:"key"`
	Scope     Scope          `json:"memory_type"`
	ProjectID string         `json:"project_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type fileBody struct {
	Entries     map[string]Entry `json:"entries"`
	LastUpdated time.Time        `json:"last_updated"`
}

// Store implements the memory_* command family.
type Store struct {
	mu      sync.Mutex
	dir     string // memory root: <dir>/user.json, <dir>/projects/<id>.json
	keys    *crypto.KeyStore
	session map[string]Entry
}

// New returns a Store rooted at dir. keys may be nil to disable encryption.
func New(dir string, keys *crypto.KeyStore) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "projects"), 0o700); err != nil {
		return nil, fmt.Errorf("create memory store dir: %w", err)
	}
	return &Store{dir: dir, keys: keys, session: make(map[string]Entry)}, nil
}

func (s *Store) filePath(scope Scope, projectID string) (string, bool) {
	switch scope {
	case ScopeUser:
		return filepath.Join(s.dir, "user.json"), true
	case ScopeProject:
		if projectID == "" {
			return "", false
		}
		return filepath.Join(s.dir, "projects", projectID+".json"), true
	default:
		return "", false
	}
}

func (s *Store) loadFile(path string) (fileBody, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fileBody{Entries: map[string]Entry{}}, nil
	}
	if err != nil {
		return fileBody{}, err
	}
	content := string(raw)

	var body fileBody
	if crypto.IsEnvelope(content) {
		if s.keys == nil || !s.keys.HasKey() {
			return fileBody{}, horizon.ErrNoMasterKey
		}
		plain, err := s.keys.DecryptEnvelope(content, []byte(path))
		if err != nil {
			return fileBody{}, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
		if err := json.Unmarshal(plain, &body); err != nil {
			return fileBody{}, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
	} else if strings.TrimSpace(content) != "" {
		if err := json.Unmarshal(raw, &body); err != nil {
			return fileBody{}, err
		}
	}
	if body.Entries == nil {
		body.Entries = map[string]Entry{}
	}
	return body, nil
}

func (s *Store) saveFile(path string, body fileBody, encrypt bool) error {
	body.LastUpdated = time.Now()
	plain, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}

	var out []byte
	if encrypt {
		if s.keys == nil || !s.keys.HasKey() {
			return horizon.ErrNoMasterKey
		}
		envelope, err := s.keys.EncryptEnvelope(plain, []byte(path))
		if err != nil {
			return err
		}
		out = []byte(envelope)
	} else {
		out = plain
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Save writes one memory entry under scope (and projectID, for
// ScopeProject). Session entries are kept only in memory. Persistent
// entries are encrypted whenever a master key is currently set (matching
// the original service's unconditional-if-key-set behavior) and refuse to
// downgrade a previously encrypted file when no master key is set.
func (s *Store) Save(scope Scope, key string, value any, projectID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if scope == ScopeSession {
		existing, had := s.session[key]
		created := now
		if had {
			created = existing.CreatedAt
		}
		s.session[key] = Entry{Key: key, Value: value, CreatedAt: created, UpdatedAt: now, Metadata: metadata}
		return nil
	}

	path, ok := s.filePath(scope, projectID)
	if !ok {
		return fmt.Errorf("%w: invalid scope/project for save", horizon.ErrValidation)
	}

	wasEncrypted, err := peekEncrypted(path)
	if err != nil {
		return err
	}
	if wasEncrypted && (s.keys == nil || !s.keys.HasKey()) {
		return horizon.ErrWouldDowngrade
	}

	body, err := s.loadFile(path)
	if err != nil {
		return err
	}
	created := now
	if existing, had := body.Entries[key]; had {
		created = existing.CreatedAt
	}
	body.Entries[key] = Entry{Key: key, Value: value, CreatedAt: created, UpdatedAt: now, Metadata: metadata}

	// Encrypt whenever a master key is available, matching the original
	// service's "always encrypt if crypto is configured" behavior; a file
	// that was already encrypted and has no key available now was already
	// refused above rather than silently downgraded.
	encrypt := s.keys != nil && s.keys.HasKey()
	return s.saveFile(path, body, encrypt)
}

// peekEncrypted reports whether the file at path currently carries the
// ENC: prefix, without fully decoding it.
func peekEncrypted(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return crypto.IsEnvelope(string(raw)), nil
}

// Get returns an entry's value, or (nil, false) if absent or unreadable.
func (s *Store) Get(scope Scope, key, projectID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		e, ok := s.session[key]
		if !ok {
			return nil, false
		}
		return e.Value, true
	}

	path, ok := s.filePath(scope, projectID)
	if !ok {
		return nil, false
	}
	body, err := s.loadFile(path)
	if err != nil {
		return nil, false
	}
	e, ok := body.Entries[key]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// List returns value-free summaries for scope (and projectID, for
// ScopeProject), sorted by key.
func (s *Store) List(scope Scope, projectID string) []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Summary
	if scope == ScopeSession {
		for k, e := range s.session {
			out = append(out, Summary{Key: k, Scope: ScopeSession, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt, Metadata: e.Metadata})
		}
	} else {
		path, ok := s.filePath(scope, projectID)
		if !ok {
			return nil
		}
		body, err := s.loadFile(path)
		if err != nil {
			return nil
		}
		for k, e := range body.Entries {
			out = append(out, Summary{Key: k, Scope: scope, ProjectID: projectID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt, Metadata: e.Metadata})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Delete removes an entry. It reports whether an entry was actually
// removed.
func (s *Store) Delete(scope Scope, key, projectID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		if _, ok := s.session[key]; !ok {
			return false, nil
		}
		delete(s.session, key)
		return true, nil
	}

	path, ok := s.filePath(scope, projectID)
	if !ok {
		return false, fmt.Errorf("%w: invalid scope/project for delete", horizon.ErrValidation)
	}
	wasEncrypted, err := peekEncrypted(path)
	if err != nil {
		return false, err
	}
	body, err := s.loadFile(path)
	if err != nil {
		return false, err
	}
	if _, ok := body.Entries[key]; !ok {
		return false, nil
	}
	delete(body.Entries, key)
	if wasEncrypted && (s.keys == nil || !s.keys.HasKey()) {
		return false, horizon.ErrWouldDowngrade
	}
	if err := s.saveFile(path, body, wasEncrypted); err != nil {
		return false, err
	}
	return true, nil
}

// ClearSession empties the session tier, returning the number of entries
// removed.
func (s *Store) ClearSession() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.session)
	s.session = make(map[string]Entry)
	return n
}

// Resolve implements llm.MemoryResolver: the union of explicit keys
// (user-scope) and the project's own entries, de-duplicated, project-first
// when a key exists in both scopes (spec.md §4.8 step 3).
func (s *Store) Resolve(projectID string, keys []string) map[string]string {
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := s.Get(ScopeUser, k, ""); ok {
			out[k] = stringify(v)
		}
	}
	if projectID != "" {
		for _, entry := range s.List(ScopeProject, projectID) {
			if v, ok := s.Get(ScopeProject, entry.Key, projectID); ok {
				out[entry.Key] = stringify(v)
			}
		}
	}
	return out
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
