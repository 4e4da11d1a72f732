package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taskcadence/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
  at: "06:30"
generator:
  workers: 8
storage:
  driver: sqlite
  path: ./data/tc.db
  busy_timeout: 2s
notifier:
  enabled: true
  token: "123:secret"
  chat_id: -100200
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "06:30", cfg.Scheduler.At)
	assert.Equal(t, 8, cfg.Generator.Workers)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NotNil(t, cfg.Notifier)
	assert.EqualValues(t, -100200, cfg.Notifier.ChatID)
	assert.Same(t, cfg, m.Get())
}

func TestParseIsStrict(t *testing.T) {
	t.Parallel()
	_, err := NewConfigManager(writeFile(t, "config.yaml", "storage:\n  driver: file\n  pth: x\n")).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pth")

	_, err = NewConfigManager(writeFile(t, "config.json", `{"generator":{"workers":1}}{}`)).Parse()
	assert.Error(t, err)

	cfg, err := NewConfigManager(writeFile(t, "config.yml", "")).Parse()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := m.LoadOrDefault()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad at", func(c *Config) { c.Scheduler.At = "24:00" }, "scheduler.at"},
		{"bad spec", func(c *Config) { c.Scheduler.Spec = "every day" }, "scheduler.spec"},
		{"negative duration", func(c *Config) { c.Scheduler.Timeout = "-1s" }, "scheduler.timeout"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage = StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"postgres without dsn", func(c *Config) { c.Storage = StorageConfig{Driver: "postgres"} }, "storage.dsn"},
		{"redis without addr", func(c *Config) { c.Storage = StorageConfig{Driver: "redis"} }, "storage.addr"},
		{"notifier without token", func(c *Config) { c.Notifier = &NotifierConfig{Enabled: true, ChatID: 1} }, "notifier.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mut(c)
			err := Validate(c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)
	d, err = ParseDurationOrDefault("x", "90s", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
	_, err = ParseDurationOrDefault("x", "soon", time.Hour)
	assert.ErrorContains(t, err, "x: invalid duration")
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Logging.Level = "debug"
	newCfg.Storage = StorageConfig{Driver: "postgres", DSN: "postgres://u:hunter2@db/tc"}
	newCfg.Notifier = &NotifierConfig{Enabled: true, Token: "123:secret", ChatID: 5}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "notifier", "storage"}, changed)
	assert.Equal(t, []string{"notifier", "storage"}, RestartRequired(changed))

	var sb strings.Builder
	log := logx.NewWriter(&sb, "debug")
	log.Info("config changed", attrs...)
	out := sb.String()
	assert.Contains(t, out, `"storage.dsn_set":true`)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "123:secret")

	changed, _ = SummarizeConfigChange(oldCfg, Default())
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", "generator:\n  workers: 1\n")
	m := NewConfigManager(path)
	m.debounce = 50 * time.Millisecond
	m.SetLogger(logx.NewWriter(io.Discard, "debug"))
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	require.NoError(t, os.WriteFile(path, []byte("generator:\n  workers: -3\n"), 0o600))
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, ch, 0)
	assert.Equal(t, 1, m.Get().Generator.Workers)

	require.NoError(t, os.WriteFile(path, []byte("generator:\n  workers: 6\n"), 0o600))
	select {
	case cfg := <-ch:
		assert.Equal(t, 6, cfg.Generator.Workers)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not published")
	}
	assert.Equal(t, 6, m.Get().Generator.Workers)

	cancel()
	<-done
}
