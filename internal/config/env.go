package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvToken       = "TELEGRAM_TOKEN"
	EnvDatabaseURL = "DATABASE_URL"
	EnvLogLevel    = "CONFBOT_LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE files into the process environment.
// Missing files are skipped; variables already set are never replaced.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnv overlays environment values on a parsed config.
// DATABASE_URL switches storage to postgres.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvDatabaseURL)); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
}
