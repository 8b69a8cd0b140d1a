package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"confbot/internal/config"
	"confbot/internal/eventbus"
	logx "confbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestNotificationDefaults(t *testing.T) {
	ncfg, fcfg, err := mapNotificationsConfig(&config.Config{})
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, ncfg.Lead)
	require.Zero(t, ncfg.JobTimeout)
	require.Equal(t, 24, fcfg.BatchSize)
	require.Equal(t, time.Second, fcfg.BatchPause)
	require.Zero(t, fcfg.RatePerSec)
	require.Zero(t, fcfg.RetryMax)
}

func TestStorageMapping(t *testing.T) {
	tests := []struct {
		name    string
		in      *config.StorageConfig
		driver  string
		wantErr bool
	}{
		{name: "omitted", in: nil, driver: "sqlite"},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite3", Path: "x.db"}, driver: "sqlite"},
		{name: "postgres", in: &config.StorageConfig{Driver: "postgres", DSN: "postgres://x"}, driver: "postgres"},
		{name: "postgres without dsn", in: &config.StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "mongo"}, wantErr: true},
		{name: "bad busy timeout", in: &config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.driver, sc.Driver)
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(&config.Config{}))

	bad := []*config.Config{
		{Telegram: config.TelegramConfig{PollTimeout: "-1s"}},
		{Telegram: config.TelegramConfig{GroupLog: "@logs"}},
		{Event: config.EventConfig{Timezone: "Mars/Olympus"}},
		{Scheduler: config.SchedulerConfig{HistorySize: -1}},
		{Notifications: &config.NotificationsConfig{LeadTime: "soon"}},
		{Notifications: &config.NotificationsConfig{BatchSize: -1}},
	}
	for _, cfg := range bad {
		require.Error(t, Validate(cfg))
	}
}

func TestEventDisplayDefaultsToEventZone(t *testing.T) {
	ev, err := mapEventConfig(&config.Config{Event: config.EventConfig{Timezone: "Europe/Berlin"}})
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", ev.Display.String())
	require.Equal(t, "Europe/Berlin", mapSchedulerConfig(&config.Config{Event: config.EventConfig{Timezone: "Europe/Berlin"}}).Timezone)
}

func TestOfflineCoreImportsWithoutSideEffects(t *testing.T) {
	cfg := &config.Config{
		Storage: &config.StorageConfig{Driver: "sqlite", Path: ":memory:"},
		Event:   config.EventConfig{Year: 2099},
	}
	core, err := BuildCore(cfg, logx.Nop(), eventbus.New(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })
	require.Nil(t, core.Fanout)

	edits, err := core.Parser.Parse(strings.NewReader("date,start_time,end_time,title,speaker,location\n01-07,09:00,10:00,Keynote,Ann,Main\n"))
	require.NoError(t, err)
	out, err := core.Reconcile.Apply(context.Background(), "cli", edits)
	require.NoError(t, err)
	require.Equal(t, 1, out.Stats.Inserted)
	require.Zero(t, out.Plan.Planned)

	res, err := core.Planner.Replan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Planned)
	require.Len(t, core.Planner.Jobs(), 1)
}
