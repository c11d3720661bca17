// Package stores provides TokenStorage implementations for the client
// package: a JSON file under the user config dir and an in-memory store.
// A gorm-backed variant lives in the gorm subpackage.
package stores

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/MaxJnyk/authflow/client"
)

// FSTokenStorage stores credentials as a JSON file on the filesystem.
type FSTokenStorage struct {
	mu       sync.RWMutex
	path     string
	servers  map[string]*client.Credential
	modified bool
}

// credentialFile is the JSON structure stored on disk.
type credentialFile struct {
	Servers map[string]*client.Credential `json:"servers"`
}

// NewFSTokenStorage creates a file-backed storage. An empty path defaults
// to <user config dir>/<appName>/credentials.json.
func NewFSTokenStorage(path string, appName string) (*FSTokenStorage, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "authflow"
		}
		path = filepath.Join(configDir, appName, "credentials.json")
	}

	s := &FSTokenStorage{
		path:    path,
		servers: make(map[string]*client.Credential),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *FSTokenStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing credentials file: %w", err)
	}
	s.servers = file.Servers
	if s.servers == nil {
		s.servers = make(map[string]*client.Credential)
	}
	return nil
}

// normalizeURL reduces a backend URL to scheme://host for use as a key.
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

func (s *FSTokenStorage) GetCredential(serverURL string) (*client.Credential, error) {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[key], nil
}

func (s *FSTokenStorage) SetCredential(serverURL string, cred *client.Credential) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[key] = cred
	s.modified = true
	return nil
}

func (s *FSTokenStorage) RemoveCredential(serverURL string) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, key)
	s.modified = true
	return nil
}

func (s *FSTokenStorage) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	servers := make([]string, 0, len(s.servers))
	for k := range s.servers {
		servers = append(servers, k)
	}
	return servers, nil
}

// Save writes pending changes to disk with owner-only permissions.
func (s *FSTokenStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modified {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(credentialFile{Servers: s.servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	s.modified = false
	return nil
}

// Path returns the path of the credentials file.
func (s *FSTokenStorage) Path() string { return s.path }
