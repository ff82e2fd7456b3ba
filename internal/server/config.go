package server

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the server's own TOML-decoded configuration (spec.md §6, §9),
// following onedrive-go's internal/config.Load single-file decode style but
// without that package's two-pass drive-section extraction, since this
// server has no analogue to per-drive override sections.
type Config struct {
	ListenAddr       string   `toml:"listen_addr"`
	StorageBasePath  string   `toml:"storage_base_path"`
	DatabasePath     string   `toml:"database_path"`
	JWTSecret        string   `toml:"jwt_secret"`
	CORSOrigins      []string `toml:"cors_origins"`
	RedisAddr        string   `toml:"redis_addr"`
	UploadRateLimit  float64  `toml:"upload_rate_limit_per_sec"`
}

// DefaultConfig returns the zero-config first-run defaults, mirroring
// onedrive-go's DefaultConfig()/LoadOrDefault pattern.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		StorageBasePath: "./data/storage",
		DatabasePath:    "./data/filesync.db",
		CORSOrigins:     []string{"http://localhost:8080"},
		UploadRateLimit: 20,
	}
}

// LoadConfig decodes a TOML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: jwt_secret is required")
	}

	return cfg, nil
}
