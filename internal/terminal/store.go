package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Saved is what a terminal remembers between runs.
type Saved struct {
	OperatorID  string    `json:"operatorId"`
	LastAccess  time.Time `json:"lastAccess,omitempty"`
	ReaderID    string    `json:"readerId,omitempty"`
	Token       string    `json:"token,omitempty"`
	TokenExpiry time.Time `json:"tokenExpiry,omitempty"`
	// LeaseTTL is the reader lease length announced at login; it paces the
	// heartbeat after a restart.
	LeaseTTL time.Duration `json:"leaseTTL,omitempty"`
}

// SessionStore persists Saved.
type SessionStore interface {
	Load() (Saved, error)
	Save(Saved) error
}

// FileStore keeps Saved as a JSON file, written atomically.
type FileStore struct {
	Path string
}

var _ SessionStore = (*FileStore)(nil)

// Load returns an empty Saved when the file does not exist yet.
func (f *FileStore) Load() (Saved, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Saved{}, nil
	}
	if err != nil {
		return Saved{}, err
	}
	var s Saved
	if err := json.Unmarshal(raw, &s); err != nil {
		return Saved{}, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return s, nil
}

func (f *FileStore) Save(s Saved) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// MemoryStore keeps Saved in memory.
type MemoryStore struct {
	mu sync.Mutex
	s  Saved
}

func (m *MemoryStore) Load() (Saved, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *MemoryStore) Save(s Saved) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}
