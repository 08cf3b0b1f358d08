package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every overlay variable.
const EnvPrefix = "VERSEBOT_"

// envOverlay lists the deployment knobs that may come from the
// environment instead of the config file. Unset variables change nothing.
type envOverlay struct {
	Token        string  `env:"TELEGRAM_TOKEN"`
	OwnerIDs     []int64 `env:"OWNER_IDS" envSeparator:","`
	LogLevel     string  `env:"LOG_LEVEL"`
	CatalogDir   string  `env:"CATALOG_DIR"`
	StorageDrv   string  `env:"STORAGE_DRIVER"`
	StoragePath  string  `env:"STORAGE_PATH"`
	BroadcastOff bool    `env:"BROADCAST_DISABLED"`
}

// loadEnviron merges a .env file under the process environment; real
// variables win. A missing .env file is not an error.
func loadEnviron(dotenvPath string, environ []string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(dotenvPath) != "" {
		m, err := godotenv.Read(dotenvPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
		}
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range env.ToMap(environ) {
		out[k] = v
	}
	return out, nil
}

// applyEnv overlays environment values onto cfg.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverlay
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("env overlay: %w", err)
	}
	if o.Token != "" {
		cfg.Telegram.Token = o.Token
	}
	if len(o.OwnerIDs) > 0 {
		cfg.Telegram.OwnerUserIDs = o.OwnerIDs
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.CatalogDir != "" {
		cfg.Catalog.Dir = o.CatalogDir
	}
	if o.StorageDrv != "" || o.StoragePath != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if o.StorageDrv != "" {
			cfg.Storage.Driver = o.StorageDrv
		}
		if o.StoragePath != "" {
			cfg.Storage.Path = o.StoragePath
		}
	}
	if o.BroadcastOff {
		cfg.Broadcast.Enabled = false
	}
	return nil
}

func processEnviron() []string { return os.Environ() }
