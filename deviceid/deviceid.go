// Package deviceid provides a stable per-device identifier for auth
// requests. The identifier is a random UUID persisted under the user
// config dir; when no UUID can be generated it falls back to an id
// derived from the MAC address.
package deviceid

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultAppName = "authflow"

var (
	mu     sync.Mutex
	cached string
)

// Get returns the device identifier, generating and persisting one on
// first use.
func Get() string {
	mu.Lock()
	defer mu.Unlock()
	if cached != "" {
		return cached
	}

	path := idPath(defaultAppName)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			cached = id
			return cached
		}
	}

	cached = newDeviceID(path)
	return cached
}

// MACDerivedID returns the fallback identifier derived from the MAC
// address.
func MACDerivedID() string {
	return base64.StdEncoding.EncodeToString(uuid.NodeID())
}

func newDeviceID(path string) string {
	newID, err := uuid.NewRandom()
	if err != nil {
		slog.Error("generating device id failed, falling back to MAC-derived id", "error", err)
		return MACDerivedID()
	}
	id := newID.String()
	if err := persist(path, id); err != nil {
		slog.Error("persisting device id failed", "error", err, "path", path)
	}
	return id
}

func persist(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(id+"\n"), 0600)
}

func idPath(appName string) string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			configDir = "."
		} else {
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, appName, "device_id")
}
