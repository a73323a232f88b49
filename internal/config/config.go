package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for chartbak. It is supplied by the
// surrounding application's settings surface; the engine itself never reads
// this file.
type Config struct {
	StateDir   string           `toml:"state_dir"` // catalog, staging, lock file, logs
	LogDir     string           `toml:"log_dir"`
	Sources    SourcesConfig    `toml:"sources"`
	Store      StoreConfig      `toml:"store"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Backup     BackupConfig     `toml:"backup"`
	Retention  RetentionConfig  `toml:"retention"`
	PostBackup PostBackupConfig `toml:"post_backup"`
}

// SourcesConfig locates the live data owned by the records application: the
// database file, the encryption-material artifacts and the attachments
// directory.
type SourcesConfig struct {
	Database    string `toml:"database"`
	Salt        string `toml:"salt"`
	PublicKey   string `toml:"public_key"`
	PrivateKey  string `toml:"private_key"`
	Attachments string `toml:"attachments"`
}

// KeyFiles returns the encryption-material artifacts in a stable order.
func (s SourcesConfig) KeyFiles() []string {
	return []string{s.Salt, s.PublicKey, s.PrivateKey}
}

// StoreConfig configures the archive store backend. This uses a tagged union
// pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "filesystem" (default), "s3", or "memory"

	// Filesystem-specific: local folder or mounted cloud-sync folder.
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// CatalogConfig configures the backup catalog database.
type CatalogConfig struct {
	Type string `toml:"type"`           // "sqlite" (default) or "memory"
	Path string `toml:"path,omitempty"` // defaults to <state_dir>/catalog.db
}

// BackupConfig controls when backups run and when a chain is restarted with
// a fresh full backup.
type BackupConfig struct {
	Frequency           string `toml:"frequency"` // "session" (default), "daily", or "manual"
	DailyAt             string `toml:"daily_at"`  // "HH:MM", only used when frequency is "daily"
	FullMaxAgeDays      int    `toml:"full_max_age_days"`
	FullMaxIncrementals int    `toml:"full_max_incrementals"`
}

// RetentionConfig controls pruning. Zero values disable the respective rule.
type RetentionConfig struct {
	KeepChains      int `toml:"keep_chains"`
	MaxChainAgeDays int `toml:"max_chain_age_days"`
}

// PostBackupConfig configures the external command run after each backup
// occurrence, e.g. an off-box sync.
type PostBackupConfig struct {
	Command        string `toml:"command"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RunOnFailure   bool   `toml:"run_on_failure"`
}

// NewConfig creates a Config with defaults rooted at the given directories.
func NewConfig(dataDir, stateDir string) *Config {
	return &Config{
		StateDir: stateDir,
		LogDir:   filepath.Join(stateDir, "log"),
		Sources: SourcesConfig{
			Database:    filepath.Join(dataDir, "records.db"),
			Salt:        filepath.Join(dataDir, "keys", "salt"),
			PublicKey:   filepath.Join(dataDir, "keys", "chartbak.pub"),
			PrivateKey:  filepath.Join(dataDir, "keys", "chartbak.key"),
			Attachments: filepath.Join(dataDir, "attachments"),
		},
		Store: StoreConfig{
			Type: "filesystem",
			Root: filepath.Join(dataDir, "backups"),
		},
		Catalog: CatalogConfig{Type: "sqlite"},
		Backup: BackupConfig{
			Frequency:           "session",
			DailyAt:             "03:30",
			FullMaxAgeDays:      30,
			FullMaxIncrementals: 14,
		},
		Retention: RetentionConfig{KeepChains: 3},
		PostBackup: PostBackupConfig{
			TimeoutSeconds: 300,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided
// Config. Fails if a config file already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
