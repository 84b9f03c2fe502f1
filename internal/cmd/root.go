// Package cmd implements the jobgraph command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/internal/config"
	apperrors "github.com/3leaps/jobgraph/internal/errors"
	"github.com/3leaps/jobgraph/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// exitFailure is used for errors that carry no specific exit code.
const exitFailure = 1

var (
	cfgFile  string
	verbose  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Plan job dependency graphs and report on their execution",
	Long: `jobgraph builds job dependency graphs from declarative pipeline manifests
and reports on the execution records those jobs leave behind.

Dependencies between jobs are inferred from the files they read and write:
a job depends on the most recent earlier job producing one of its inputs.

Examples:
  jobgraph plan pipeline.yaml
  jobgraph report jobs.jsonl --top-to-bottom
  jobgraph serve jobs.jsonl --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: user config dir/jobgraph/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace|debug|info|warn|error)")
}

// SetVersionInfo records build information. Called from main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command and exits with the code carried by the
// returned error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()

	if err == nil {
		return
	}
	code := apperrors.ExitCode(err, exitFailure)
	if interrupted && errors.Is(err, context.Canceled) {
		code = foundry.ExitSignalInt
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(code)
}

// initConfig loads configuration and installs the CLI logger before any
// subcommand runs.
func initConfig(cmd *cobra.Command, args []string) error {
	observability.InitCLILogger(config.AppName, verbose)

	config.SetConfigFile(cfgFile)
	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": logLevel}})
	}
	cfg, err := config.Load(cmd.Context(), overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	if !verbose && logLevel != "" {
		logger, err := observability.NewLogger(cfg.Logging.Level, observability.ProfileConsole, config.AppName)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
		}
		observability.CLILogger = logger
	}

	observability.CLILogger.Debug("Loaded configuration",
		zap.String("config_file", cfgFile),
		zap.String("date_format", cfg.Report.DateFormat),
		zap.String("end_date", cfg.Report.EndDate))
	return nil
}

// currentConfig returns the loaded configuration. Commands run after
// initConfig, so a nil config only happens in tests calling run functions
// directly; defaults are loaded then.
func currentConfig(ctx context.Context) (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.Load(ctx)
}

// exitError wraps err so Execute exits with code.
func exitError(code int, message string, err error) error {
	return apperrors.NewExitError(code, message, err)
}
