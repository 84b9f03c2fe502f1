package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/internal/observability"
	"github.com/3leaps/jobgraph/internal/server"
	"github.com/3leaps/jobgraph/internal/server/handlers"
	"github.com/3leaps/jobgraph/pkg/report"
)

var serveCmd = &cobra.Command{
	Use:   "serve [job_file]",
	Short: "Serve summaries and reports of a job file over HTTP",
	Long: `Start an HTTP server exposing execution records of a job file or, with
--run, of an archived run.

The file is re-read on every request, so reports follow a run that is still
appending records.

Endpoints:
  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /metrics   Prometheus metrics, including job counts per status
  GET /summary   summary statistics as JSON
  GET /records   selected records as JSON
  GET /report    text report (query: filter, match, detail, order, end)

Examples:
  jobgraph serve jobs.jsonl
  jobgraph serve jobs.jsonl --host 0.0.0.0 --port 9000
  jobgraph serve --run nightly`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

var (
	serveHost string
	servePort int
	serveRun  string
	serveDB   string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from config)")
	serveCmd.Flags().StringVar(&serveRun, "run", "", "Serve an archived run (id or name) instead of a file")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Archive database path for --run (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if len(args) == 1 && serveRun != "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", errors.New("give either a job file or --run"))
	}

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	opts := []server.Option{
		server.WithLogger(observability.CLILogger),
		server.WithVersion(server.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
		server.WithReportDefaults(report.Options{
			DateFormat: cfg.Report.DateFormat,
			EndMode:    cfg.Report.EndMode(),
		}),
	}
	switch {
	case serveRun != "":
		db, err := openArchive(ctx, cfg, serveDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		run, err := resolveRun(ctx, db, serveRun)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithRecordSource(handlers.ArchiveSource{DB: db, RunID: run.RunID}))
	case len(args) == 1:
		loadOpts := cfg.Records.LoadOptions()
		loadOpts.Logger = observability.CLILogger
		opts = append(opts, server.WithRecordSource(handlers.FileSource{Path: args[0], Options: loadOpts}))
	default:
		observability.CLILogger.Warn("No job file given; report endpoints will answer 503")
	}

	srv := server.New(host, port, opts...)
	observability.CLILogger.Info("Starting server", zap.String("addr", srv.Addr()))
	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	observability.CLILogger.Info("Server stopped")
	return nil
}
