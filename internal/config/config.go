package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	QueueBackendMemory   = "memory"
	QueueBackendPostgres = "postgres"
)

// Config holds all environment-based configuration for docsync.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// DBPath is the bbolt database file. Defaults to ~/.docsync/state.db.
	DBPath string `env:"DOCSYNC_DB_PATH"`

	// Sync queue tuning.
	Debounce        time.Duration `env:"SYNC_DEBOUNCE" envDefault:"5s"`
	MaxRetries      int           `env:"SYNC_MAX_RETRIES" envDefault:"3"`
	ItemTimeout     time.Duration `env:"SYNC_ITEM_TIMEOUT" envDefault:"30s"`
	DefaultPriority int           `env:"SYNC_DEFAULT_PRIORITY" envDefault:"5"`

	// RecoveryInterval is how often stale sync states are re-enqueued.
	RecoveryInterval time.Duration `env:"RECOVERY_INTERVAL" envDefault:"1m"`

	// Queue backlog. "postgres" shares the backlog across instances.
	QueueBackend     string `env:"QUEUE_BACKEND" envDefault:"memory"`
	QueuePostgresDSN string `env:"QUEUE_POSTGRES_DSN"`

	// FolderProviderDir enables the local folder provider when set.
	FolderProviderDir string `env:"FOLDER_PROVIDER_DIR"`

	// RulesFile seeds coordination rules from YAML at startup.
	RulesFile string `env:"COORDINATION_RULES_FILE"`

	// DocTypes extends the document types rules may reference.
	DocTypes []string `env:"COORDINATION_DOC_TYPES" envSeparator:","`

	// HTTP surface.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8090"`
	APIKeys    string `env:"API_KEYS"`
	EnableMCP  bool   `env:"ENABLE_MCP" envDefault:"true"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. The file carries API keys and DSNs.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.DBPath == "" {
		p, err := DefaultDBPath()
		if err != nil {
			return nil, err
		}

		cfg.DBPath = p
	}

	if cfg.FolderProviderDir != "" {
		absDir, err := filepath.Abs(cfg.FolderProviderDir)
		if err != nil {
			return nil, fmt.Errorf("resolving folder provider dir to absolute path: %w", err)
		}

		cfg.FolderProviderDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Debounce <= 0 {
		return fmt.Errorf("SYNC_DEBOUNCE must be positive")
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("SYNC_MAX_RETRIES must be at least 1")
	}

	if c.ItemTimeout <= 0 {
		return fmt.Errorf("SYNC_ITEM_TIMEOUT must be positive")
	}

	if c.RecoveryInterval <= 0 {
		return fmt.Errorf("RECOVERY_INTERVAL must be positive")
	}

	switch c.QueueBackend {
	case QueueBackendMemory:
	case QueueBackendPostgres:
		if strings.TrimSpace(c.QueuePostgresDSN) == "" {
			return fmt.Errorf("QUEUE_POSTGRES_DSN is required when QUEUE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q (want memory or postgres)", c.QueueBackend)
	}

	if _, err := c.ParseAPIKeys(); err != nil {
		return err
	}

	return nil
}

// DefaultDBPath returns ~/.docsync/state.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".docsync", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// apiKeyMinLen is the minimum accepted API key length.
const apiKeyMinLen = 16

// APIKeyEntry binds an API key to the tenant it may read and write.
type APIKeyEntry struct {
	TenantID string
	Key      string
}

// ParseAPIKeys parses the API_KEYS string.
// Format: "tenant1:key1,tenant2:key2"
func (c *Config) ParseAPIKeys() ([]APIKeyEntry, error) {
	if c.APIKeys == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		tenantID := pair[:idx]

		key := pair[idx+1:]
		if tenantID == "" || key == "" {
			return nil, fmt.Errorf("empty tenant or key in entry %d", len(entries)+1)
		}

		if len(key) < apiKeyMinLen {
			return nil, fmt.Errorf("API key too short in entry %d (minimum %d characters)", len(entries)+1, apiKeyMinLen)
		}

		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate API key in entry %d", len(entries)+1)
		}

		seen[key] = struct{}{}
		entries = append(entries, APIKeyEntry{TenantID: tenantID, Key: key})
	}

	return entries, nil
}
