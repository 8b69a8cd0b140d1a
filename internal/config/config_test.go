package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: file-token
  owner_user_ids: [1, 2]
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./confbot.db
scheduler:
  enabled: true
event:
  timezone: Europe/Berlin
  year: 2025
notifications:
  lead_time: 10m
  batch_size: 30
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) string { return "" }

func TestParseYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.getenv = noEnv
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "file-token", cfg.Telegram.Token)
	require.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, 2025, cfg.Event.Year)
	require.Equal(t, "10m", cfg.Notifications.LeadTime)
	require.Same(t, cfg, m.Get())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"plugins":{}}`))
	m.getenv = noEnv
	_, err := m.Parse()
	require.ErrorContains(t, err, "plugins")

	m = NewManager(writeFile(t, "config.json", `{"telegram":{}}{}`))
	m.getenv = noEnv
	_, err = m.Parse()
	require.ErrorContains(t, err, "trailing data")
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvToken:       "env-token",
		EnvDatabaseURL: "postgres://bot@db/confbot",
		EnvLogLevel:    "debug",
	}
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.getenv = func(k string) string { return env[k] }
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "postgres", cfg.Storage.Driver)
	require.Equal(t, "postgres://bot@db/confbot", cfg.Storage.DSN)
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", "CONFBOT_TEST_DOTENV=from-file\n")
	t.Setenv("CONFBOT_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CONFBOT_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env")))
	require.Equal(t, "from-file", os.Getenv("CONFBOT_TEST_DOTENV"))
}

func TestDurationAndLocation(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, d)

	_, err = ParseDurationField("notifications.lead_time", "-1s")
	require.ErrorContains(t, err, "notifications.lead_time")

	loc, err := ParseLocation("event.timezone", "", time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
	_, err = ParseLocation("event.timezone", "Mars/Olympus", time.UTC)
	require.Error(t, err)
}

func TestReloadValidatesAndPublishes(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(p)
	m.getenv = noEnv
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Unchanged content is not republished.
	require.NoError(t, m.reload(context.Background()))
	require.Len(t, sub, 0)

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Notifications != nil && cfg.Notifications.BatchSize < 0 {
			return os.ErrInvalid
		}
		return nil
	})
	require.NoError(t, os.WriteFile(p, []byte(sampleYAML+"  retry_max: 2\n"), 0o600))
	require.NoError(t, m.reload(context.Background()))
	got := <-sub
	require.Equal(t, 2, got.Notifications.RetryMax)

	bad := "telegram:\n  token: x\nnotifications:\n  batch_size: -1\n"
	require.NoError(t, os.WriteFile(p, []byte(bad), 0o600))
	require.ErrorIs(t, m.reload(context.Background()), os.ErrInvalid)
	require.Equal(t, 2, m.Get().Notifications.RetryMax)
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{Telegram: TelegramConfig{Token: "a"}, Notifications: &NotificationsConfig{LeadTime: "5m"}}
	cur := &Config{Telegram: TelegramConfig{Token: "b"}, Notifications: &NotificationsConfig{LeadTime: "10m"},
		Storage: &StorageConfig{Driver: "postgres", DSN: "secret"}}

	sections, attrs := SummarizeConfigChange(old, cur)
	require.Equal(t, []string{"notifications", "storage", "telegram"}, sections)
	require.NotEmpty(t, attrs)
	require.Equal(t, []string{"telegram.token", "storage"}, RestartRequired(old, cur))
	require.Empty(t, RestartRequired(cur, cur))
}
