// Package kvstore persists JSON values under string keys on a host-provided
// backend: a JSON file, a SQLite table, or process memory.
package kvstore

import (
	"errors"
	"fmt"

	"github.com/adrg/xdg"
	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates that no value is stored under the key.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrUnknownBackend indicates an unsupported backend name.
	ErrUnknownBackend = errors.New("kvstore: unknown backend")
)

const (
	defaultFileName   = "proclean/localstorage.json"
	defaultSQLiteName = "proclean/local.db"
)

// Backend is the raw string-keyed store a host environment provides.
type Backend interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Delete(key string) error
	Clear() error
	Close() error
}

// BackendConfig selects and locates a backend.
type BackendConfig struct {
	Kind   string
	Path   string
	Logger *zap.Logger
}

// OpenBackend constructs the backend named by cfg.Kind. An empty path resolves
// to the per-user XDG state directory.
func OpenBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "memory":
		return NewMemoryBackend(), nil
	case "file", "":
		path := cfg.Path
		if path == "" {
			resolved, err := xdg.StateFile(defaultFileName)
			if err != nil {
				return nil, fmt.Errorf("kvstore: resolve state file: %w", err)
			}
			path = resolved
		}
		return OpenFileBackend(path, cfg.Logger)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			resolved, err := xdg.StateFile(defaultSQLiteName)
			if err != nil {
				return nil, fmt.Errorf("kvstore: resolve state file: %w", err)
			}
			path = resolved
		}
		return OpenSQLiteBackend(path, cfg.Logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Kind)
	}
}
