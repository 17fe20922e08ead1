// Package convstore implements the conversation store: one JSON file per
// chat under a data directory, with optional AES-256-GCM encryption at rest
// via internal/crypto. Grounded on
// original_source/worker/services/chat_history_service.py, restated with
// Go's explicit error handling and whole-file-replacement writes in place
// of the original's in-place os.open("w").
package convstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielHori/horizon-worker/internal/crypto"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

const titleSeedLength = 40

// Summary is a listing entry: conversation metadata without its messages.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model,omitempty"`
	ProjectID    string    `json:"projectId,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Encrypted    bool      `json:"encrypted"`
}

// Store persists conversations as one JSON file per chat under dir. A nil
// keys disables encryption entirely: encrypt requests are honored only when
// keys.HasKey() is true.
type Store struct {
	mu   sync.Mutex
	dir  string
	keys *crypto.KeyStore
}

// New returns a Store rooted at dir, creating it if absent. keys may be nil
// if conversations are never to be encrypted.
func New(dir string, keys *crypto.KeyStore) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create conversation store dir: %w", err)
	}
	return &Store{dir: dir, keys: keys}, nil
}

func (s *Store) path(chatID string) string {
	return filepath.Join(s.dir, chatID+".json")
}

// load reads and decodes the conversation file for chatID. It returns
// (nil, false, nil) when the file does not exist, and reports whether the
// on-disk record was encrypted.
func (s *Store) load(chatID string) (conv *horizon.Conversation, encrypted bool, err error) {
	raw, err := os.ReadFile(s.path(chatID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	content := string(raw)

	if crypto.IsEnvelope(content) {
		if s.keys == nil || !s.keys.HasKey() {
			return nil, true, horizon.ErrNoMasterKey
		}
		plain, err := s.keys.DecryptEnvelope(content, []byte(chatID))
		if err != nil {
			return nil, true, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
		var c horizon.Conversation
		if err := json.Unmarshal(plain, &c); err != nil {
			return nil, true, fmt.Errorf("%w: %v", horizon.ErrDecryptionFailed, err)
		}
		return &c, true, nil
	}

	if strings.TrimSpace(content) == "" {
		return &horizon.Conversation{}, false, nil
	}
	var c horizon.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false, err
	}
	return &c, false, nil
}

// save whole-file-replaces the conversation record: it writes to a sibling
// temp file and renames over the target so a reader never observes a
// partially written file.
func (s *Store) save(chatID string, c *horizon.Conversation, encrypt bool) error {
	body, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	var out []byte
	if encrypt {
		if s.keys == nil || !s.keys.HasKey() {
			return horizon.ErrNoMasterKey
		}
		envelope, err := s.keys.EncryptEnvelope(body, []byte(chatID))
		if err != nil {
			return err
		}
		out = []byte(envelope)
	} else {
		out = body
	}

	dir := s.dir
	tmp, err := os.CreateTemp(dir, chatID+".*.tmp")
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
	if err := os.Rename(tmpName, s.path(chatID)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// List returns every conversation's metadata, newest-updated first.
// Corrupted files are skipped with a warning; encrypted conversations are
// omitted entirely when no master key is set.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		chatID := strings.TrimSuffix(e.Name(), ".json")
		c, encrypted, err := s.load(chatID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[convstore] skipping %s: %v\n", e.Name(), err)
			continue
		}
		if c == nil {
			// File removed after ReadDir listed it. (Encrypted files with
			// no key set come back as ErrNoMasterKey and are skipped above.)
			continue
		}
		if c.ID == "" {
			c.ID = chatID
		}
		title := c.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, Summary{
			ID:           c.ID,
			Title:        title,
			Model:        c.Model,
			ProjectID:    c.ProjectID,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(c.Messages),
			Encrypted:    encrypted,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].UpdatedAt, out[j].UpdatedAt
		if ti.IsZero() {
			ti = out[i].CreatedAt
		}
		if tj.IsZero() {
			tj = out[j].CreatedAt
		}
		return ti.After(tj)
	})
	return out
}

// GetMessages returns the messages for chatID, or nil if it does not exist
// or cannot be read (encrypted with no key, corrupted, etc).
func (s *Store) GetMessages(chatID string) []horizon.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, _, err := s.load(chatID)
	if err != nil || c == nil {
		return nil
	}
	return c.Messages
}

// SaveMessageParams holds SaveMessage's optional fields.
type SaveMessageParams struct {
	ChatID    string
	Role      string
	Content   string
	Model     string
	ProjectID string
	Encrypt   bool
}

// SaveMessage appends a message to a conversation, creating it when ChatID
// is empty. If the existing file is encrypted, the rewrite remains
// encrypted; if the master key is unset at that moment the write is
// refused rather than silently downgraded to plaintext.
func (s *Store) SaveMessage(p SaveMessageParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chatID := p.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}

	now := time.Now()
	c, wasEncrypted, err := s.load(chatID)
	switch {
	case err != nil && wasEncrypted:
		// Encrypted but unreadable right now (no key, or corrupted):
		// refuse rather than silently start a fresh plaintext file,
		// which would be an implicit downgrade.
		return "", horizon.ErrWouldDowngrade
	case err != nil:
		return "", err
	case c == nil:
		c = &horizon.Conversation{
			ID:        chatID,
			CreatedAt: now,
		}
	}
	if c.ID == "" {
		c.ID = chatID
	}

	encrypt := p.Encrypt || wasEncrypted

	if p.Model != "" && c.Model == "" {
		c.Model = p.Model
	}
	if p.ProjectID != "" {
		c.ProjectID = p.ProjectID
	}
	if p.Role == horizon.RoleUser && (c.Title == "" || c.Title == "New Chat") {
		c.Title = seedTitle(p.Content)
	}
	if c.Title == "" {
		c.Title = "New Chat"
	}

	c.Messages = append(c.Messages, horizon.Message{
		Role:      p.Role,
		Content:   p.Content,
		Timestamp: now,
	})
	c.UpdatedAt = now

	if err := s.save(chatID, c, encrypt); err != nil {
		return "", err
	}
	return chatID, nil
}

func seedTitle(content string) string {
	r := []rune(content)
	if len(r) <= titleSeedLength {
		return content
	}
	return string(r[:titleSeedLength]) + "..."
}

// Delete removes a conversation's file. It is not an error to delete a
// conversation that does not exist.
func (s *Store) Delete(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(chatID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// UpdateProject changes a conversation's project linkage. projectID may be
// empty to clear the link. Preserves the encrypted-or-not status of the
// existing record, refusing to downgrade as SaveMessage does.
func (s *Store) UpdateProject(chatID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, wasEncrypted, err := s.load(chatID)
	if err != nil && wasEncrypted {
		return horizon.ErrWouldDowngrade
	}
	if err != nil {
		return err
	}
	if c == nil {
		return horizon.ErrNotFound
	}

	c.ProjectID = projectID
	c.UpdatedAt = time.Now()
	return s.save(chatID, c, wasEncrypted)
}

// CountByProject returns how many conversations are linked to projectID.
func (s *Store) CountByProject(projectID string) int {
	n := 0
	for _, c := range s.List() {
		if c.ProjectID == projectID {
			n++
		}
	}
	return n
}

// ListByProject returns the summaries linked to projectID, in the same
// order as List.
func (s *Store) ListByProject(projectID string) []Summary {
	var out []Summary
	for _, c := range s.List() {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out
}
