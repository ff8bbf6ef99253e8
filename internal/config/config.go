package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ebakup.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Collection CollectionConfig `toml:"collection"`
	Journal    JournalConfig    `toml:"journal"`
	Sources    []SourceConfig   `toml:"sources"`
}

// CollectionConfig locates the backup collection. Checksum and BlockSize
// are only used when the collection is created; an existing collection
// keeps the values it was created with.
type CollectionConfig struct {
	Path      string `toml:"path"`
	Checksum  string `toml:"checksum,omitempty"`   // default "sha256"
	BlockSize int    `toml:"block_size,omitempty"` // default 4096
}

// JournalConfig represents configuration for the operation journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type JournalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SourceConfig is one directory tree to back up.
type SourceConfig struct {
	Path   string   `toml:"path"`
	Name   string   `toml:"name,omitempty"` // defaults to the base name of Path
	Ignore []string `toml:"ignore,omitempty"`
}

// NewConfig creates a Config rooted at baseDir with default locations.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Collection: CollectionConfig{
			Path:     filepath.Join(baseDir, "collection"),
			Checksum: "sha256",
		},
		Journal: JournalConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	if c.Collection.Path == "" {
		return fmt.Errorf("collection.path is required")
	}
	if c.Collection.BlockSize < 0 {
		return fmt.Errorf("collection.block_size must not be negative")
	}
	switch c.Journal.Type {
	case "memory":
	case "sqlite":
		if c.Journal.DataDir == "" {
			return fmt.Errorf("journal.data_dir is required for sqlite journal")
		}
	default:
		return fmt.Errorf("unknown journal type: %q", c.Journal.Type)
	}
	for i, s := range c.Sources {
		if s.Path == "" {
			return fmt.Errorf("sources[%d].path is required", i)
		}
	}
	return nil
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
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

// Init writes cfg to a new config file at path. An existing file is never
// overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
