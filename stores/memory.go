package stores

import (
	"sync"

	"github.com/MaxJnyk/authflow/client"
)

// MemoryTokenStorage keeps credentials in memory. Useful for tests and for
// hosts that manage persistence themselves.
type MemoryTokenStorage struct {
	mu      sync.RWMutex
	servers map[string]*client.Credential
}

func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{servers: make(map[string]*client.Credential)}
}

func (s *MemoryTokenStorage) GetCredential(serverURL string) (*client.Credential, error) {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[key], nil
}

func (s *MemoryTokenStorage) SetCredential(serverURL string, cred *client.Credential) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[key] = cred
	return nil
}

func (s *MemoryTokenStorage) RemoveCredential(serverURL string) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, key)
	return nil
}

func (s *MemoryTokenStorage) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	servers := make([]string, 0, len(s.servers))
	for k := range s.servers {
		servers = append(servers, k)
	}
	return servers, nil
}

func (s *MemoryTokenStorage) Save() error { return nil }
