package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageBackend != StorageBackendFile {
		t.Fatalf("expected file backend by default, got %q", cfg.StorageBackend)
	}
	if cfg.SyncMaxRetries != 3 {
		t.Fatalf("expected 3 sync retries, got %d", cfg.SyncMaxRetries)
	}
	if cfg.ReplayOrder != "fifo" {
		t.Fatalf("expected fifo replay order, got %q", cfg.ReplayOrder)
	}
	if cfg.DatastoreLatency != 50*time.Millisecond {
		t.Fatalf("expected 50ms datastore latency, got %s", cfg.DatastoreLatency)
	}
	if cfg.OperationTimeout != 30*time.Second {
		t.Fatalf("unexpected operation timeout %s", cfg.OperationTimeout)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PROCLEAN_STORAGE_BACKEND", "SQLite")
	t.Setenv("PROCLEAN_REMOTE_URL", "https://api.example.test/")
	t.Setenv("PROCLEAN_SYNC_REPLAY_ORDER", "lifo")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageBackend != StorageBackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.StorageBackend)
	}
	if cfg.RemoteURL != "https://api.example.test" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.RemoteURL)
	}
	if cfg.ReplayOrder != "lifo" {
		t.Fatalf("expected lifo, got %q", cfg.ReplayOrder)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "backend", key: "storage.backend", value: "indexeddb"},
		{name: "replay-order", key: "sync.replay_order", value: "random"},
		{name: "retries", key: "sync.max_retries", value: 0},
		{name: "remote-url", key: "remote.url", value: " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(tt.key, tt.value)
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error for %s", tt.key)
			}
		})
	}
}

func TestValidateServerRequiresSigningSecret(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.ValidateServer(); err == nil {
		t.Fatalf("expected missing signing secret error")
	}
	cfg.SigningSecret = "secret"
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
