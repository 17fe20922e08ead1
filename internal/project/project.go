// Package project implements the projects_* command family (spec.md §6),
// grounded on original_source/worker/services/project_service.py: a
// project is a logical container (repos, memory key references,
// per-project permission/settings overrides) linked to conversations via
// project id. Storage follows convstore/memory's single-file,
// optional-envelope-encryption, whole-file-replacement discipline.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielHori/horizon-worker/internal/crypto"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// Repo is a repository attached to a project.
type Repo struct {
	Path       string    `json:"path"`
	AttachedAt time.Time `json:"attached_at"`
}

// Permissions is a project-scoped permission override.
type Permissions struct {
	Read   bool            `json:"read"`
	Write  bool            `json:"write"`
	Custom map[string]bool `json:"custom,omitempty"`
}

// Settings is a project-scoped behavior override.
type Settings struct {
	DefaultModel string `json:"default_model,omitempty"`
	AutoLoadRepo bool   `json:"auto_load_repo"`
	ContextMode  string `json:"context_mode"` // "safe" | "standard"
}

// Project is the persisted project record. ConversationCount is computed
// on read from the conversation store, never persisted.
type Project struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Description       string      `json:"description,omitempty"`
	ScopePath         string      `json:"scope_path,omitempty"`
	Repos             []Repo      `json:"repos"`
	MemoryKeys        []string    `json:"memory_keys"`
	Permissions       Permissions `json:"permissions"`
	Settings          Settings    `json:"settings"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	LastAccessedAt    time.Time   `json:"last_accessed_at"`
	ConversationCount int         `json:"conversation_count"`
}

type fileBody struct {
	Projects    []Project `json:"projects"`
	LastUpdated time.Time `json:"last_updated"`
	Version     string    `json:"version"`
}

// Store implements the projects_* command family over a single JSON file.
type Store struct {
	mu    sync.Mutex
	path  string
	keys  *crypto.KeyStore
	convs CountByProjectFunc
}

// CountByProjectFunc lets Store compute conversationCount without a direct
// dependency on convstore's concrete type (avoids an import cycle risk and
// keeps project's storage concerns decoupled from chat history's).
type CountByProjectFunc func(projectID string) int

// New returns a Store backed by <dir>/projects.json. keys may be nil to
// disable encryption. counter is optional; when nil, ConversationCount is
// always reported as 0.
func New(dir string, keys *crypto.KeyStore, counter CountByProjectFunc) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	if counter == nil {
		counter = func(string) int { return 0 }
	}
	return &Store{path: filepath.Join(dir, "projects.json"), keys: keys, convs: counter}, nil
}

func (s *Store) load() (fileBody, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return fileBody{}, nil
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
		plain, err := s.keys.DecryptEnvelope(content, []byte(s.path))
		if err != nil {
			return fileBody{}, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
		if err := json.Unmarshal(plain, &body); err != nil {
			return fileBody{}, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
		return body, nil
	}
	if len(raw) == 0 {
		return fileBody{}, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fileBody{}, err
	}
	return body, nil
}

func (s *Store) save(body fileBody) error {
	body.LastUpdated = time.Now()
	body.Version = "1"
	plain, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}

	wasEncrypted, err := peekEncrypted(s.path)
	if err != nil {
		return err
	}
	encrypt := s.keys != nil && s.keys.HasKey()
	if wasEncrypted && !encrypt {
		return horizon.ErrWouldDowngrade
	}

	var out []byte
	if encrypt {
		envelope, err := s.keys.EncryptEnvelope(plain, []byte(s.path))
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
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

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

// List returns every project, conversation counts refreshed, sorted by
// LastAccessedAt descending (most recently touched first).
func (s *Store) List() ([]Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() ([]Project, error) {
	body, err := s.load()
	if err != nil {
		return nil, err
	}
	out := body.Projects
	for i := range out {
		out[i].ConversationCount = s.convs(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessedAt.After(out[j].LastAccessedAt) })
	return out, nil
}

// Get returns a project by id, touching its LastAccessedAt. Returns
// (Project{}, false, nil) if no such project exists.
func (s *Store) Get(id string) (Project, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := s.load()
	if err != nil {
		return Project{}, false, err
	}
	idx := indexOf(body.Projects, id)
	if idx < 0 {
		return Project{}, false, nil
	}
	body.Projects[idx].LastAccessedAt = time.Now()
	if err := s.save(body); err != nil {
		return Project{}, false, err
	}
	p := body.Projects[idx]
	p.ConversationCount = s.convs(p.ID)
	return p, true, nil
}

// Create makes a new project and persists it.
func (s *Store) Create(name, description, scopePath string, perms Permissions) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p := Project{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    description,
		ScopePath:      scopePath,
		Repos:          []Repo{},
		MemoryKeys:     []string{},
		Permissions:    perms,
		Settings:       Settings{AutoLoadRepo: true, ContextMode: "safe"},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}

	body, err := s.load()
	if err != nil {
		return Project{}, err
	}
	body.Projects = append(body.Projects, p)
	if err := s.save(body); err != nil {
		return Project{}, err
	}
	return p, nil
}

// Update applies fn to the project identified by id and persists the
// result. fn mutates p in place. Returns (Project{}, false, nil) if id is
// unknown.
func (s *Store) Update(id string, fn func(p *Project)) (Project, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := s.load()
	if err != nil {
		return Project{}, false, err
	}
	idx := indexOf(body.Projects, id)
	if idx < 0 {
		return Project{}, false, nil
	}
	fn(&body.Projects[idx])
	body.Projects[idx].UpdatedAt = time.Now()
	if err := s.save(body); err != nil {
		return Project{}, false, err
	}
	p := body.Projects[idx]
	p.ConversationCount = s.convs(p.ID)
	return p, true, nil
}

// AddRepo attaches repoPath to the project, or refreshes its AttachedAt if
// already present.
func (s *Store) AddRepo(id, repoPath string) (Project, bool, error) {
	return s.Update(id, func(p *Project) {
		for i := range p.Repos {
			if p.Repos[i].Path == repoPath {
				p.Repos[i].AttachedAt = time.Now()
				return
			}
		}
		p.Repos = append(p.Repos, Repo{Path: repoPath, AttachedAt: time.Now()})
	})
}

// RemoveRepo detaches repoPath from the project.
func (s *Store) RemoveRepo(id, repoPath string) (Project, bool, error) {
	return s.Update(id, func(p *Project) {
		kept := p.Repos[:0]
		for _, r := range p.Repos {
			if r.Path != repoPath {
				kept = append(kept, r)
			}
		}
		p.Repos = kept
	})
}

// Delete removes a project and orphans its conversations (project_id set
// to ""). Memory cleanup is the caller's responsibility (internal/memory
// owns its own files; project deletion doesn't reach across packages to
// delete them directly, unlike the original's direct filesystem reach-in).
func (s *Store) Delete(id string, orphan func(chatID string) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := s.load()
	if err != nil {
		return false, err
	}
	idx := indexOf(body.Projects, id)
	if idx < 0 {
		return false, nil
	}
	body.Projects = append(body.Projects[:idx], body.Projects[idx+1:]...)
	if err := s.save(body); err != nil {
		return false, err
	}
	if orphan != nil {
		if err := orphan(id); err != nil {
			return true, err
		}
	}
	return true, nil
}

const (
	orphanNameEN = "Orphan Projects"
	orphanDescEN = "Automatic project for conversations without a project"
)

// GetOrCreateOrphan returns the well-known orphan bucket project, creating
// it on first use.
func (s *Store) GetOrCreateOrphan() (Project, error) {
	projects, err := s.List()
	if err != nil {
		return Project{}, err
	}
	for _, p := range projects {
		if p.Name == orphanNameEN {
			return p, nil
		}
	}
	return s.Create(orphanNameEN, orphanDescEN, "", Permissions{Read: true, Write: false})
}

func indexOf(projects []Project, id string) int {
	for i, p := range projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}
