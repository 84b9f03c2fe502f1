package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobgraph/pkg/summary"
)

// isolate points the user config directory at an empty temp dir.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	SetConfigFile("")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		assert.Equal(t, "2006-01-02T15:04:05", cfg.Report.DateFormat)
		assert.Equal(t, "latest", cfg.Report.EndDate)
		assert.Equal(t, summary.EndLatest, cfg.Report.EndMode())

		assert.False(t, cfg.Records.SkipMalformed)
		assert.Equal(t, 1<<20, cfg.Records.MaxLineBytes)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
			"report": map[string]any{
				"end_date": "Earliest",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, summary.EndEarliest, cfg.Report.EndMode())
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("JOBGRAPH_PORT", "3000")
		t.Setenv("JOBGRAPH_LOG_LEVEL", "warn")
		t.Setenv("JOBGRAPH_SKIP_MALFORMED", "true")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.True(t, cfg.Records.SkipMalformed)
		assert.True(t, cfg.Records.LoadOptions().SkipMalformed)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("JOBGRAPH_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "jobgraph.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
report:
  date_format: "2006-01-02 15:04:05"
server:
  port: 7000
  read_timeout: 1m
`), 0o644))
		SetConfigFile(path)
		defer SetConfigFile("")
		t.Setenv("JOBGRAPH_PORT", "7100")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2006-01-02 15:04:05", cfg.Report.DateFormat)
		assert.Equal(t, 7100, cfg.Server.Port, "env wins over file")
		assert.Equal(t, time.Minute, cfg.Server.ReadTimeout)
	})

	t.Run("UserConfigFile", func(t *testing.T) {
		isolate(t)
		dir, err := os.UserConfigDir()
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, AppName), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, AppName, "config.yaml"),
			[]byte("logging:\n  profile: console\n"), 0o644))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "CONSOLE", cfg.Logging.Profile)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
		defer SetConfigFile("")

		_, err := Load(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing.yaml")
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoad_Invalid(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		overrides   map[string]any
		errContains string
	}{
		{"level", map[string]any{"logging": map[string]any{"level": "loud"}}, "log level"},
		{"profile", map[string]any{"logging": map[string]any{"profile": "pretty"}}, "profile"},
		{"end date", map[string]any{"report": map[string]any{"end_date": "middle"}}, "end_date"},
		{"date format", map[string]any{"report": map[string]any{"date_format": " "}}, "date_format"},
		{"line limit", map[string]any{"records": map[string]any{"max_line_bytes": 0}}, "max_line_bytes"},
		{"port", map[string]any{"server": map[string]any{"port": 70000}}, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{"server": map[string]any{"port": 8181}})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Server.Port, current.Server.Port)
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("JOBGRAPH_READ_TIMEOUT", "45s")
	t.Setenv("JOBGRAPH_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]string)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "JOBGRAPH_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = spec.Path
	}
	assert.Equal(t, "logging.level", names["JOBGRAPH_LOG_LEVEL"])
	assert.Equal(t, "server.port", names["JOBGRAPH_PORT"])
	assert.Equal(t, "server.host", names["JOBGRAPH_HOST"])
	assert.Equal(t, "report.end_date", names["JOBGRAPH_END_DATE"])

	// Every env var targets a key with a default.
	v := viper.New()
	SetDefaults(v)
	for _, spec := range specs {
		assert.True(t, v.IsSet(spec.Path), spec.Path)
	}
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"server": map[string]any{"port": 1, "tls": map[string]any{"on": true}},
		"workers": 4,
	})
	assert.Equal(t, map[string]any{
		"server.port":   1,
		"server.tls.on": true,
		"workers":       4,
	}, got)
}

func TestArchiveStoreConfig(t *testing.T) {
	isolate(t)
	t.Setenv("JOBGRAPH_ARCHIVE_AUTH_TOKEN", "tok")
	dir, err := os.UserConfigDir()
	require.NoError(t, err)

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	store := cfg.Archive.StoreConfig()
	assert.Equal(t, filepath.Join(dir, AppName, "archive.db"), store.Path)
	assert.Equal(t, "tok", store.AuthToken)

	cfg, err = Load(context.Background(), map[string]any{
		"archive": map[string]any{"url": "libsql://db.example.io"},
	})
	require.NoError(t, err)
	store = cfg.Archive.StoreConfig()
	assert.Empty(t, store.Path)
	assert.Equal(t, "libsql://db.example.io", store.URL)
}
