// Package config loads jobgraph configuration.
//
// Values are layered, later layers winning: built-in defaults, an optional
// YAML config file, JOBGRAPH_* environment variables, then runtime overrides
// (typically command-line flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/jobgraph/internal/observability"
	"github.com/3leaps/jobgraph/pkg/archive"
	"github.com/3leaps/jobgraph/pkg/joblog"
	"github.com/3leaps/jobgraph/pkg/summary"
)

// AppName names the binary, the config directory and the env prefix.
const AppName = "jobgraph"

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "JOBGRAPH"

// Config is the resolved configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Report  ReportConfig  `mapstructure:"report"`
	Records RecordsConfig `mapstructure:"records"`
	Server  ServerConfig  `mapstructure:"server"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Profile is STRUCTURED (JSON) or CONSOLE. Normalized to upper case.
	Profile string `mapstructure:"profile"`
}

// ReportConfig holds report defaults.
type ReportConfig struct {
	// DateFormat is a Go time layout used to read and print dates.
	DateFormat string `mapstructure:"date_format"`
	// EndDate selects the execution end: "latest" or "earliest".
	EndDate string `mapstructure:"end_date"`
}

// RecordsConfig controls record decoding.
type RecordsConfig struct {
	SkipMalformed bool `mapstructure:"skip_malformed"`
	MaxLineBytes  int  `mapstructure:"max_line_bytes"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ArchiveConfig locates the record archive. URL, when set, wins over Path.
type ArchiveConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// StoreConfig returns the archive connection settings. With neither a path
// nor a URL, the archive lives in the user config directory.
func (c ArchiveConfig) StoreConfig() archive.Config {
	cfg := archive.Config{Path: c.Path, URL: c.URL, AuthToken: c.AuthToken}
	if strings.TrimSpace(cfg.Path) == "" && strings.TrimSpace(cfg.URL) == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.Path = filepath.Join(dir, AppName, "archive.db")
		}
	}
	return cfg
}

// EndMode returns the parsed end-date mode.
func (c ReportConfig) EndMode() summary.EndMode {
	mode, _ := summary.ParseEndMode(c.EndDate)
	return mode
}

// LoadOptions returns the record decoding options.
func (c RecordsConfig) LoadOptions() joblog.LoadOptions {
	return joblog.LoadOptions{SkipMalformed: c.SkipMalformed, MaxLineBytes: c.MaxLineBytes}
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile sets an explicit config file for subsequent loads. An empty
// path restores discovery in the user config directory.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load resolves the configuration and stores it for GetConfig. Each
// override map is nested like the config file, e.g.
// {"server": {"port": 9000}}.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	SetDefaults(v)

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Report.EndDate = strings.ToLower(strings.TrimSpace(cfg.Report.EndDate))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("report.date_format", joblog.DefaultDateFormat)
	v.SetDefault("report.end_date", summary.EndLatest.String())

	v.SetDefault("records.skip_malformed", false)
	v.SetDefault("records.max_line_bytes", joblog.DefaultMaxLineBytes)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("archive.path", "")
	v.SetDefault("archive.url", "")
	v.SetDefault("archive.auth_token", "")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Profile {
	case observability.ProfileStructured, observability.ProfileConsole:
	default:
		errs = append(errs, fmt.Errorf("invalid logging profile %q", c.Logging.Profile))
	}
	if strings.TrimSpace(c.Report.DateFormat) == "" {
		errs = append(errs, errors.New("report.date_format must not be empty"))
	}
	if _, ok := summary.ParseEndMode(c.Report.EndDate); !ok {
		errs = append(errs, fmt.Errorf("invalid report.end_date %q (want latest or earliest)", c.Report.EndDate))
	}
	if c.Records.MaxLineBytes <= 0 {
		errs = append(errs, fmt.Errorf("records.max_line_bytes must be positive, got %d", c.Records.MaxLineBytes))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// envSpec maps an environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	pairs := []struct{ suffix, path string }{
		{"LOG_LEVEL", "logging.level"},
		{"LOG_PROFILE", "logging.profile"},
		{"DATE_FORMAT", "report.date_format"},
		{"END_DATE", "report.end_date"},
		{"SKIP_MALFORMED", "records.skip_malformed"},
		{"MAX_LINE_BYTES", "records.max_line_bytes"},
		{"HOST", "server.host"},
		{"PORT", "server.port"},
		{"READ_TIMEOUT", "server.read_timeout"},
		{"WRITE_TIMEOUT", "server.write_timeout"},
		{"IDLE_TIMEOUT", "server.idle_timeout"},
		{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"ARCHIVE_PATH", "archive.path"},
		{"ARCHIVE_URL", "archive.url"},
		{"ARCHIVE_AUTH_TOKEN", "archive.auth_token"},
	}
	specs := make([]envSpec, len(pairs))
	for i, p := range pairs {
		specs[i] = envSpec{Name: EnvPrefix + "_" + p.suffix, Path: p.path}
	}
	return specs
}

// readConfigFile merges an explicit file, or the user config file when one
// exists. A missing explicit file is an error; a missing user file is not.
func readConfigFile(v *viper.Viper, explicit string) error {
	path := explicit
	if path == "" {
		path = userConfigPath()
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

func userConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName, "config.yaml")
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
