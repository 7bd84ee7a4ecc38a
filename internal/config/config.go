// Package config loads application configuration from an optional file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Config holds the application configuration.
type Config struct {
	HTTPAddr         string `koanf:"http_addr"`
	StoreDriver      string `koanf:"store_driver"`
	DatabasePath     string `koanf:"database_path"`
	JSONStorePath    string `koanf:"json_store_path"`
	WatchDir         string `koanf:"watch_dir"`
	LogLevel         string `koanf:"log_level"`
	LogFile          string `koanf:"log_file"`
	TelegramBotToken string `koanf:"telegram_bot_token"`

	SyncInterval    time.Duration `koanf:"-"`
	FetchTimeout    time.Duration `koanf:"-"`
	TelegramChatIDs []int64       `koanf:"-"`
	AllowedUsers    []int64       `koanf:"-"`
}

var defaults = map[string]string{
	"http_addr":       ":3000",
	"store_driver":    DriverSQLite,
	"database_path":   "./data/rsswatch.db",
	"json_store_path": "./data/db.json",
	"watch_dir":       "./watch_files",
	"sync_interval":   "15m",
	"fetch_timeout":   "30s",
	"log_level":       "info",
}

// Files looked up in the working directory when Load gets no explicit path.
var defaultFiles = []string{"config.yaml", "config.yml", "config.json", "config.toml"}

// Load reads configuration from path (or the first default config file found
// in the working directory), then lets environment variables override it.
// TELEGRAM_BOT_TOKEN becomes telegram_bot_token and so on.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path, _ = lo.Find(defaultFiles, func(name string) bool {
			_, err := os.Stat(name)
			return err == nil
		})
	}
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Empty variables are treated as unset so they never mask file values.
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return strings.ToLower(key), value
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, val := range defaults {
		if k.String(key) == "" {
			if err := k.Set(key, val); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var err error
	if cfg.SyncInterval, err = duration(k, "sync_interval"); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = duration(k, "fetch_timeout"); err != nil {
		return nil, err
	}
	if cfg.TelegramChatIDs, err = idList(k, "telegram_chat_ids"); err != nil {
		return nil, err
	}
	if cfg.AllowedUsers, err = idList(k, "allowed_users"); err != nil {
		return nil, err
	}

	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	if cfg.StoreDriver != DriverSQLite && cfg.StoreDriver != DriverJSON {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: want %s or %s", cfg.StoreDriver, DriverSQLite, DriverJSON)
	}
	cfg.WatchDir = ExpandHome(cfg.WatchDir)

	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

func duration(k *koanf.Koanf, key string) (time.Duration, error) {
	raw := k.String(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToUpper(key), raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", strings.ToUpper(key), d)
	}
	return d, nil
}

// idList accepts either a comma-separated string (environment) or a list
// (config file) of numeric IDs.
func idList(k *koanf.Koanf, key string) ([]int64, error) {
	var parts []string
	switch v := k.Get(key).(type) {
	case nil:
		return nil, nil
	case string:
		parts = strings.Split(v, ",")
	case []any:
		parts = lo.Map(v, func(item any, _ int) string { return fmt.Sprint(item) })
	default:
		parts = []string{fmt.Sprint(v)}
	}

	var ids []int64
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q in %s: %w", s, strings.ToUpper(key), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
