package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "PROCLEAN"

	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "proclean.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultTokenTTLHours       = 720
	defaultStorageBackend      = "file"
	defaultRemoteURL           = "http://127.0.0.1:8080"
	defaultRemoteTimeout       = 10
	defaultRemoteMaxRetries    = 2
	defaultSyncMaxRetries      = 3
	defaultOperationTimeout    = 30
	defaultReplayOrder         = "fifo"
	defaultProbeInterval       = 15
	defaultDatastoreLatencyMS  = 50
	defaultAlertDurationSecond = 5
)

// Storage backend names accepted by storage.backend.
const (
	StorageBackendFile   = "file"
	StorageBackendSQLite = "sqlite"
	StorageBackendMemory = "memory"
)

// AppConfig captures runtime configuration for every ProClean command.
type AppConfig struct {
	LogLevel  string
	LogFormat string

	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	TokenTTL      time.Duration

	StorageBackend string
	StoragePath    string

	RemoteURL        string
	RemoteAPIKey     string
	RemoteTimeout    time.Duration
	RemoteMaxRetries int

	SyncMaxRetries   int
	OperationTimeout time.Duration
	ReplayOrder      string
	ProbeInterval    time.Duration

	DatastoreLatency time.Duration
	AlertDuration    time.Duration
	WorkstationName  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.token_ttl_hours", defaultTokenTTLHours)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.path", "")
	configViper.SetDefault("remote.url", defaultRemoteURL)
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeout)
	configViper.SetDefault("remote.max_retries", defaultRemoteMaxRetries)
	configViper.SetDefault("sync.max_retries", defaultSyncMaxRetries)
	configViper.SetDefault("sync.operation_timeout_seconds", defaultOperationTimeout)
	configViper.SetDefault("sync.replay_order", defaultReplayOrder)
	configViper.SetDefault("sync.probe_interval_seconds", defaultProbeInterval)
	configViper.SetDefault("datastore.latency_ms", defaultDatastoreLatencyMS)
	configViper.SetDefault("notify.alert_seconds", defaultAlertDurationSecond)
	configViper.SetDefault("workstation.name", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        configViper.GetString("log.format"),
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_hours")) * time.Hour,
		StorageBackend:   strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		StoragePath:      strings.TrimSpace(configViper.GetString("storage.path")),
		RemoteURL:        strings.TrimRight(strings.TrimSpace(configViper.GetString("remote.url")), "/"),
		RemoteAPIKey:     strings.TrimSpace(configViper.GetString("remote.api_key")),
		RemoteTimeout:    time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		RemoteMaxRetries: configViper.GetInt("remote.max_retries"),
		SyncMaxRetries:   configViper.GetInt("sync.max_retries"),
		OperationTimeout: time.Duration(configViper.GetInt("sync.operation_timeout_seconds")) * time.Second,
		ReplayOrder:      strings.ToLower(strings.TrimSpace(configViper.GetString("sync.replay_order"))),
		ProbeInterval:    time.Duration(configViper.GetInt("sync.probe_interval_seconds")) * time.Second,
		DatastoreLatency: time.Duration(configViper.GetInt("datastore.latency_ms")) * time.Millisecond,
		AlertDuration:    time.Duration(configViper.GetInt("notify.alert_seconds")) * time.Second,
		WorkstationName:  strings.TrimSpace(configViper.GetString("workstation.name")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.StorageBackend {
	case StorageBackendFile, StorageBackendSQLite, StorageBackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of file, sqlite, memory: got %q", c.StorageBackend)
	}
	if c.RemoteURL == "" {
		return fmt.Errorf("remote.url is required")
	}
	if c.SyncMaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("sync.operation_timeout_seconds must be positive")
	}
	if c.ReplayOrder != "fifo" && c.ReplayOrder != "lifo" {
		return fmt.Errorf("sync.replay_order must be fifo or lifo: got %q", c.ReplayOrder)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("sync.probe_interval_seconds must be positive")
	}
	if c.DatastoreLatency < 0 {
		return fmt.Errorf("datastore.latency_ms must not be negative")
	}
	return nil
}

// ValidateServer checks the settings only the reference API server and token issuer need.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_hours must be positive")
	}
	return nil
}
