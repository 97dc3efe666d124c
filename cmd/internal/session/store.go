// Package session persists the bearer tokens the realtime client and REST
// client authenticate with.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultKey is the key the CLI stores its token under.
const DefaultKey = "auth_token"

// ErrEmptyKey is returned when a key is blank.
var ErrEmptyKey = errors.New("session: empty key")

// Store is a synchronous key/value token store.
type Store interface {
	Token(key string) (string, bool)
	SetToken(key, token string) error
	DeleteToken(key string) error
}

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

func (s *MemoryStore) Token(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key]
	return tok, ok
}

func (s *MemoryStore) SetToken(key, token string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	s.tokens[key] = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteToken(key string) error {
	s.mu.Lock()
	delete(s.tokens, key)
	s.mu.Unlock()
	return nil
}

// fileEntry is one persisted token.
type fileEntry struct {
	Token   string    `yaml:"token"`
	SavedAt time.Time `yaml:"saved_at"`
}

type fileDoc struct {
	Tokens map[string]fileEntry `yaml:"tokens"`
}

// FileStore persists tokens as a YAML document. The file is rewritten
// atomically with 0600 permissions on every change.
type FileStore struct {
	path string
	now  func() time.Time

	mu  sync.Mutex
	doc fileDoc
}

// OpenFileStore loads path, treating a missing file as empty.
func OpenFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session: empty file path")
	}
	s := &FileStore{
		path: path,
		now:  time.Now,
		doc:  fileDoc{Tokens: make(map[string]fileEntry)},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", path, err)
	}
	if s.doc.Tokens == nil {
		s.doc.Tokens = make(map[string]fileEntry)
	}
	return s, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/tasklink/session.yaml or the OS equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("session: config dir: %w", err)
	}
	return filepath.Join(dir, "tasklink", "session.yaml"), nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Token(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Tokens[key]
	return e.Token, ok
}

func (s *FileStore) SetToken(key, token string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Tokens[key] = fileEntry{Token: token, SavedAt: s.now().UTC()}
	return s.flushLocked()
}

func (s *FileStore) DeleteToken(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Tokens[key]; !ok {
		return nil
	}
	delete(s.doc.Tokens, key)
	return s.flushLocked()
}

// Keys lists stored keys, sorted.
func (s *FileStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.doc.Tokens))
	for k := range s.doc.Tokens {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *FileStore) flushLocked() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("session: rename: %w", err)
	}
	return nil
}
