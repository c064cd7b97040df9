package kvstore

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Well-known keys shared with existing workstation installs.
const (
	KeyOfflineData     = "procleanOfflineData"
	KeyAPIKey          = "procleanApiKey"
	KeyAuthData        = "auth_data"
	KeyWorkstationName = "workstation_name"
	tableKeyPrefix     = "proclean_"
)

// TableKey returns the key holding a local table's rows.
func TableKey(table string) string {
	return tableKeyPrefix + table
}

// Store serializes values to JSON over a Backend. Failures never propagate:
// they are logged and reported as false.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// NewStore wraps backend. A nil logger disables diagnostics.
func NewStore(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Set stores value under key.
func (s *Store) Set(key string, value any) bool {
	encoded, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("kvstore encode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := s.backend.Write(key, encoded); err != nil {
		s.logger.Error("kvstore write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Get decodes the value under key into dest. It reports false when the key is
// missing or the stored text cannot be decoded.
func (s *Store) Get(key string, dest any) bool {
	raw, err := s.backend.Read(key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Error("kvstore read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn("kvstore decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Remove deletes key.
func (s *Store) Remove(key string) bool {
	if err := s.backend.Delete(key); err != nil {
		s.logger.Error("kvstore delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Clear deletes every key.
func (s *Store) Clear() bool {
	if err := s.backend.Clear(); err != nil {
		s.logger.Error("kvstore clear failed", zap.Error(err))
		return false
	}
	return true
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
