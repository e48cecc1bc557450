package authclient

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Storage keys, shared with the web client's local storage.
const (
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
)

// TokenStore holds the credential pair between requests.
// Implementations must be safe for concurrent use.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(access, refresh string) error
	SetAccessToken(access string) error
	Clear() error
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryTokenStore constructs an empty MemoryTokenStore.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *MemoryTokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *MemoryTokenStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh = access, refresh
	return nil
}

func (s *MemoryTokenStore) SetAccessToken(access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh = "", ""
	return nil
}

// FileTokenStore persists tokens as a small JSON document so a CLI session
// survives process restarts. Writes go through a temp file and rename.
type FileTokenStore struct {
	mu   sync.Mutex
	path string

	access  string
	refresh string
	loaded  bool
}

// NewFileTokenStore constructs a FileTokenStore backed by path.
// The file is created lazily on the first write.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		return nil, errors.New("authclient: empty token file path")
	}
	return &FileTokenStore{path: path}, nil
}

func (s *FileTokenStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.access
}

func (s *FileTokenStore) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.refresh
}

func (s *FileTokenStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	s.access, s.refresh = access, refresh
	return s.saveLocked()
}

func (s *FileTokenStore) SetAccessToken(access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	s.access = access
	return s.saveLocked()
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh = "", ""
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileTokenStore) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return
	}
	s.access = doc[keyAccessToken]
	s.refresh = doc[keyRefreshToken]
}

func (s *FileTokenStore) saveLocked() error {
	data, err := json.Marshal(map[string]string{
		keyAccessToken:  s.access,
		keyRefreshToken: s.refresh,
	})
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}
