package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const fileMode = 0o600

// FileBackend stores every key in a single JSON document, mirroring how
// browser storage keeps one string per key.
type FileBackend struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// OpenFileBackend loads the document at path, creating an empty one lazily on
// first write. A document that does not decode is moved aside to
// <path>.corrupt-<unix> and the backend starts empty.
func OpenFileBackend(path string, logger *zap.Logger) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("kvstore: file path is required")
	}
	backend := &FileBackend{path: path, values: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return backend, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return backend, nil
	}
	if err := json.Unmarshal(raw, &backend.values); err != nil {
		if logger == nil {
			logger = zap.NewNop()
		}
		backend.values = make(map[string]string)
		quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			logger.Warn("corrupt storage document could not be moved aside",
				zap.String("path", path),
				zap.Error(renameErr))
			quarantine = ""
		}
		logger.Warn("corrupt storage document reset to empty",
			zap.String("path", path),
			zap.String("moved_to", quarantine),
			zap.Error(err))
	}
	return backend, nil
}

// Path reports the document location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Read(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

func (b *FileBackend) Write(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	previous, existed := b.values[key]
	b.values[key] = string(value)
	if err := b.flushLocked(); err != nil {
		if existed {
			b.values[key] = previous
		} else {
			delete(b.values, key)
		}
		return err
	}
	return nil
}

func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flushLocked()
}

func (b *FileBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = make(map[string]string)
	return b.flushLocked()
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) flushLocked() error {
	encoded, err := json.Marshal(b.values)
	if err != nil {
		return fmt.Errorf("kvstore: encode document: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("kvstore: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("kvstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: write temp file: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: replace %s: %w", b.path, err)
	}
	return nil
}
