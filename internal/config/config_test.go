package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "replyguard.yaml", `
log_level: debug
cooldown:
  window: 2m
  store_timeout: 1500
storage:
  driver: memory
messages:
  fallback_open: hi
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 2*time.Minute, cfg.Cooldown.Window.Std())
	require.Equal(t, 1500*time.Millisecond, cfg.Cooldown.StoreTimeout.Std())
	require.Equal(t, 10*time.Minute, cfg.Cooldown.CacheRetention.Std())
	require.Equal(t, 5*time.Minute, cfg.Cooldown.SweepInterval.Std())
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Empty(t, cfg.Storage.DSN)
	require.Equal(t, "hi", cfg.Messages.FallbackOpen)
	require.Equal(t, []string{"Default Fallback Intent"}, cfg.Intents.Fallback)
	require.Equal(t, "Asia/Taipei", cfg.Schedule.Timezone)
	require.Equal(t, ":8080", cfg.API.Addr)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "replyguard.json", `{
		"cooldown": {"window": "30s", "cache_retention": "1m", "coalesce": true},
		"storage": {"driver": "redis", "dsn": "redis://localhost:6379/0"},
		"intents": {"fallback": ["Fallback"], "reset": ["Human"]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Cooldown.Window.Std())
	require.True(t, cfg.Cooldown.Coalesce)
	require.Equal(t, "redis", cfg.Storage.Driver)
	require.Equal(t, []string{"Human"}, cfg.Intents.Reset)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":           ``,
		"bad driver":      "storage:\n  driver: mongo\n",
		"redis no dsn":    "storage:\n  driver: redis\n",
		"short retention": "cooldown:\n  window: 10m\n  cache_retention: 1m\n",
		"bad timezone":    "schedule:\n  timezone: Mars/Olympus\n",
		"bad weekday":     "schedule:\n  weekly:\n    funday: {open: \"09:00\", close: \"10:00\"}\n",
		"bad clock":       "schedule:\n  weekly:\n    mon: {open: \"25:00\", close: \"26:00\"}\n",
		"kafka missing":   "kafka:\n  enabled: true\n",
		"bad duration":    "cooldown:\n  window: soon\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", content))
			require.Error(t, err)
		})
	}
}

func TestLoadKeepsDSNForNonSQLiteDrivers(t *testing.T) {
	_, err := Load(writeFile(t, "c.yaml", "storage:\n  driver: redis\n"))
	require.ErrorContains(t, err, "storage.dsn")

	cfg, err := Load(writeFile(t, "c.yaml", "storage:\n  driver: postgres\n"))
	require.NoError(t, err)
	require.Empty(t, cfg.Storage.DSN)

	require.Empty(t, DefaultConfig().Storage.DSN)
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Cooldown.Window = Duration(time.Minute)
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	for _, name := range []string{"c.yaml", "c.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, cfg))
		loaded, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, cfg, loaded)
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:30")
	require.NoError(t, err)
	require.Equal(t, 9*time.Hour+30*time.Minute, d)

	d, err = ParseClock("24:00")
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, d)

	for _, bad := range []string{"24:01", "9", "12:60", "-1:00"} {
		_, err := ParseClock(bad)
		require.Error(t, err, bad)
	}
}

func TestParseWeekday(t *testing.T) {
	d, ok := ParseWeekday("Sun")
	require.True(t, ok)
	require.Equal(t, time.Sunday, d)
	d, ok = ParseWeekday("saturday")
	require.True(t, ok)
	require.Equal(t, time.Saturday, d)
	_, ok = ParseWeekday("sat-ish")
	require.False(t, ok)
}

func TestManagerReload(t *testing.T) {
	path := writeFile(t, "c.yaml", "storage:\n  driver: memory\nmessages:\n  fallback_open: one\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, "one", m.Get().Messages.FallbackOpen)

	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: memory\nmessages:\n  fallback_open: two\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.True(t, needs)
	cfg, err := m.Reload()
	require.NoError(t, err)
	require.Equal(t, "two", cfg.Messages.FallbackOpen)
	require.Equal(t, "two", m.Get().Messages.FallbackOpen)

	needs, err = m.NeedsReload()
	require.NoError(t, err)
	require.False(t, needs)
}

func TestStaticManagerNeverReloads(t *testing.T) {
	m := NewStaticManager(nil)
	require.Equal(t, DefaultConfig(), m.Get())
	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.False(t, needs)
}

func TestResolvePathPrefersFlag(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/replyguard/env.yaml")
	require.Equal(t, "/etc/replyguard/flag.yaml", ResolvePath("/etc/replyguard/flag.yaml"))
	require.Equal(t, "/etc/replyguard/env.yaml", ResolvePath(""))

	t.Setenv(EnvConfigPath, "")
	require.Empty(t, ResolvePath(""))
}
