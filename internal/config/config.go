// Package config loads the server configuration from YAML, with byte sizes
// accepted in human form ("64MB") and flag-friendly defaults.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the TCP address the wire server binds.
	Listen string `yaml:"listen"`
	// DataDir holds pages, WAL segments, and snapshots.
	DataDir string `yaml:"data_dir"`
	// SuperuserPassword seeds the postgres user on first start.
	SuperuserPassword string `yaml:"superuser_password"`
	// BufferPoolSize caps the page cache ("64MB" or a page count via
	// BufferPoolPages).
	BufferPoolSize  string `yaml:"buffer_pool_size"`
	BufferPoolPages int    `yaml:"buffer_pool_pages"`
	// WALSegmentSize rotates WAL segments ("1MB").
	WALSegmentSize string `yaml:"wal_segment_size"`
	// CheckpointSchedule is a 5-field cron spec; empty disables it.
	CheckpointSchedule string `yaml:"checkpoint_schedule"`
	// LogLevel is zap's level string (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// pageSize mirrors the storage page size for pool sizing.
const pageSize = 8192

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:             "127.0.0.1:5432",
		DataDir:            "./data",
		SuperuserPassword:  "postgres",
		BufferPoolSize:     "8MB",
		WALSegmentSize:     "1MB",
		CheckpointSchedule: "*/5 * * * *",
		LogLevel:           "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// PoolPages resolves the buffer pool capacity in pages.
func (c *Config) PoolPages() (int, error) {
	if c.BufferPoolPages > 0 {
		return c.BufferPoolPages, nil
	}
	var sz datasize.ByteSize
	if err := sz.UnmarshalText([]byte(c.BufferPoolSize)); err != nil {
		return 0, fmt.Errorf("buffer_pool_size: %w", err)
	}
	pages := int(sz.Bytes() / pageSize)
	if pages < 1 {
		pages = 1
	}
	return pages, nil
}

// WALSegmentBytes resolves the WAL rotation threshold.
func (c *Config) WALSegmentBytes() (int64, error) {
	var sz datasize.ByteSize
	if err := sz.UnmarshalText([]byte(c.WALSegmentSize)); err != nil {
		return 0, fmt.Errorf("wal_segment_size: %w", err)
	}
	return int64(sz.Bytes()), nil
}
