package goobj

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
)

// Config holds all configuration for the goobj engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.goobj/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "goobj". The file will be <DBName>.db inside the
	// storage directory (~/.goobj/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.goobj/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Workers is the size of the parse worker pool. 0 uses one worker
	// per CPU.
	Workers int `json:"workers" yaml:"workers"`

	// CompressionLevel is the zstd level for stored attribute streams:
	// fastest, default, better or best.
	CompressionLevel string `json:"compression_level" yaml:"compression_level"`

	// SkipBoundsIndex disables the bounds index used by SimilarGroups.
	SkipBoundsIndex bool `json:"skip_bounds_index" yaml:"skip_bounds_index"`
}

var compressionLevels = []string{"fastest", "default", "better", "best"}

// DefaultConfig returns a Config with sensible defaults.
// Database is stored in ~/.goobj/goobj.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:           "goobj",
		StorageDir:       "home",
		CompressionLevel: "default",
	}
}

// validate rejects values New cannot work with.
func (c *Config) validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.CompressionLevel != "" && !slices.Contains(compressionLevels, c.CompressionLevel) {
		return fmt.Errorf("%w: compression level %q, want one of %v",
			ErrInvalidConfig, c.CompressionLevel, compressionLevels)
	}
	return nil
}

// workers resolves the pool size.
func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "goobj"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".goobj")
		return filepath.Join(dir, name+".db")
	}
}
