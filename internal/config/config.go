package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultPollInterval      = 5 * time.Second
	defaultOnlineWindow      = 30 * time.Second
	defaultMaxContentBytes   = 4096
	defaultStorageType       = "file"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
)

// Duration lets cadence settings be written as "20s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// Config represents the main configuration for an earthbeat peer.
type Config struct {
	Identity   string          `toml:"identity"`
	Workspaces []string        `toml:"workspaces"`
	Storage    StorageConfig   `toml:"storage"`
	Heartbeat  HeartbeatConfig `toml:"heartbeat"`
	Presence   PresenceConfig  `toml:"presence"`
	Store      StoreConfig     `toml:"store"`
	Log        LogConfig       `toml:"log"`
}

// StorageConfig selects the durable backend for snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type string `toml:"type"`           // "file", "sqlite" or "memory"
	Dir  string `toml:"dir,omitempty"`  // only used for type=file
	Path string `toml:"path,omitempty"` // only used for type=sqlite

	// EncryptionIdentity is a path to an age X25519 identity file.
	// When set, every persisted blob is encrypted at rest.
	EncryptionIdentity string `toml:"encryption_identity,omitempty"`
}

type HeartbeatConfig struct {
	Interval Duration `toml:"interval"`
}

type PresenceConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	OnlineWindow Duration `toml:"online_window"`
}

type StoreConfig struct {
	MaxContentBytes int `toml:"max_content_bytes"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // "json" or "console"
}

// NewConfig creates a Config rooted at baseDir with every default applied.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		Storage: StorageConfig{
			Type: defaultStorageType,
			Dir:  filepath.Join(baseDir, "snapshots"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero setting with its default.
func (cfg *Config) ApplyDefaults() {
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = defaultStorageType
	}

	if cfg.Heartbeat.Interval.Duration <= 0 {
		cfg.Heartbeat.Interval.Duration = defaultHeartbeatInterval
	}

	if cfg.Presence.PollInterval.Duration <= 0 {
		cfg.Presence.PollInterval.Duration = defaultPollInterval
	}

	if cfg.Presence.OnlineWindow.Duration <= 0 {
		cfg.Presence.OnlineWindow.Duration = defaultOnlineWindow
	}

	if cfg.Store.MaxContentBytes <= 0 {
		cfg.Store.MaxContentBytes = defaultMaxContentBytes
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = defaultLogFormat
	}
}

// ApplyEnv overrides settings from EARTHBEAT_* environment variables.
func (cfg *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("EARTHBEAT_IDENTITY")); v != "" {
		cfg.Identity = v
	}

	if v := strings.TrimSpace(getenv("EARTHBEAT_WORKSPACES")); v != "" {
		cfg.Workspaces = nil
		for _, w := range strings.Split(v, ",") {
			if w = strings.TrimSpace(w); w != "" {
				cfg.Workspaces = append(cfg.Workspaces, w)
			}
		}
	}

	if v := strings.TrimSpace(getenv("EARTHBEAT_STORAGE_TYPE")); v != "" {
		cfg.Storage.Type = v
	}

	if v := strings.TrimSpace(getenv("EARTHBEAT_STORAGE_DIR")); v != "" {
		cfg.Storage.Dir = v
	}

	if v := strings.TrimSpace(getenv("EARTHBEAT_STORAGE_PATH")); v != "" {
		cfg.Storage.Path = v
	}

	if v := strings.TrimSpace(getenv("EARTHBEAT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}

	if v := strings.TrimSpace(getenv("EARTHBEAT_HEARTBEAT_INTERVAL")); v != "" {
		if err := cfg.Heartbeat.Interval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("EARTHBEAT_HEARTBEAT_INTERVAL: %w", err)
		}
	}

	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

// Init writes a new config file, refusing to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// DefaultPaths returns the base directory and config path under the user's home.
func DefaultPaths() (baseDir, configPath string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("resolving home directory: %w", err)
	}

	baseDir = filepath.Join(home, ".earthbeat")
	return baseDir, filepath.Join(baseDir, "config.toml"), nil
}

// Save overwrites the config file at path.
func Save(path string, cfg *Config) error {
	return writeToFile(path, cfg)
}
