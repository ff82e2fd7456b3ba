// Package clientconfig loads and persists the client's client.properties
// file (spec.md §6): server URL, local sync path, device identity, and
// cached bearer tokens. Grounded on onedrive-go's internal/config package —
// atomic temp-file-then-rename writes (config/write.go's atomicWriteFile)
// and a defaults-then-override load (config/load.go's LoadOrDefault) — but
// using the Java .properties key=value syntax spec.md §6 names instead of
// TOML, since BurntSushi/toml cannot parse that format.
package clientconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default values (spec.md §6).
const (
	DefaultServerURL    = "http://localhost:8080/api"
	DefaultSyncPath     = "./sync"
	DefaultSyncInterval = 10
)

const (
	keyServerURL    = "server.url"
	keyClientID     = "client.id"
	keyUsername     = "user.username"
	keyAuthToken    = "auth.token"
	keyRefreshToken = "auth.refresh_token"
	keySyncPath     = "sync.path"
	keySyncInterval = "sync.interval"
)

const configFilePermissions = 0o600

// Config is the client's persisted configuration.
type Config struct {
	ServerURL    string
	SyncPath     string
	ClientID     string
	Username     string
	AuthToken    string
	RefreshToken string
	SyncInterval int
}

// Default returns the zero-config first-run defaults (spec.md §6).
func Default() *Config {
	return &Config{
		ServerURL:    DefaultServerURL,
		SyncPath:     DefaultSyncPath,
		SyncInterval: DefaultSyncInterval,
	}
}

// Load reads a client.properties file if it exists, overlaying values onto
// the defaults; a missing file is not an error (LoadOrDefault's zero-config
// first-run behavior).
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, fmt.Errorf("opening client config %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		applyKey(cfg, key, value)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading client config %s: %w", path, err)
	}

	return cfg, nil
}

func applyKey(cfg *Config, key, value string) {
	switch key {
	case keyServerURL:
		cfg.ServerURL = value
	case keySyncPath:
		cfg.SyncPath = value
	case keyClientID:
		cfg.ClientID = value
	case keyUsername:
		cfg.Username = value
	case keyAuthToken:
		cfg.AuthToken = value
	case keyRefreshToken:
		cfg.RefreshToken = value
	case keySyncInterval:
		if n, err := strconv.Atoi(value); err == nil {
			cfg.SyncInterval = n
		}
	}
}

// Save writes cfg to path atomically (temp file + rename), creating parent
// directories as needed. Keys are written in a fixed order for a stable diff.
func Save(path string, cfg *Config) error {
	var b strings.Builder

	writeKV(&b, keyServerURL, cfg.ServerURL)
	writeKV(&b, keySyncPath, cfg.SyncPath)
	writeKV(&b, keyClientID, cfg.ClientID)
	writeKV(&b, keyUsername, cfg.Username)
	writeKV(&b, keyAuthToken, cfg.AuthToken)
	writeKV(&b, keyRefreshToken, cfg.RefreshToken)
	writeKV(&b, keySyncInterval, strconv.Itoa(cfg.SyncInterval))

	return atomicWriteFile(path, []byte(b.String()))
}

func writeKV(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('\n')
}

// atomicWriteFile writes data to a temp file alongside path, then renames it
// into place, so a crash mid-write never leaves a truncated config.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating client config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".client-config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing temp config file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing temp config file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting config file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp config file: %w", err)
	}

	succeeded = true

	return nil
}
