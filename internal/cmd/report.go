package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/internal/config"
	"github.com/3leaps/jobgraph/internal/observability"
	"github.com/3leaps/jobgraph/pkg/joblog"
	"github.com/3leaps/jobgraph/pkg/report"
	"github.com/3leaps/jobgraph/pkg/summary"
)

var reportCmd = &cobra.Command{
	Use:   "report [job_file]",
	Short: "Summarize execution records of a job file or archived run",
	Long: `Read a JSONL file of job execution records and print a report: a summary
block (job counts per status, execution time, shortest and longest job, lowest
and highest memory job) followed by one tab-separated row per job.

With --run, records come from the archive instead of a file (see
"jobgraph archive"). Absent values print as N/A. With --top-to-bottom or --bottom-to-top, rows
follow the dependency graph and the first column is indented by depth.

Examples:
  jobgraph report jobs.jsonl
  jobgraph report jobs.jsonl --nosuccess --top-to-bottom
  jobgraph report jobs.jsonl --minimal --match 'bwa_mem.*'
  jobgraph report jobs.jsonl --json
  jobgraph report jobs.jsonl -o report.tsv
  jobgraph report --run nightly -n`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

var (
	reportText        bool
	reportSuccess     bool
	reportNoSuccess   bool
	reportMinimal     bool
	reportTopDown     bool
	reportBottomUp    bool
	reportMatch       string
	reportEnd         string
	reportOutput      string
	reportJSON        bool
	reportSkipInvalid bool
	reportRun         string
	reportDB          string
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVarP(&reportText, "report", "r", false, "Print the text report (default unless --json)")
	reportCmd.Flags().BoolVarP(&reportSuccess, "success", "s", false, "Show successful jobs only")
	reportCmd.Flags().BoolVarP(&reportNoSuccess, "nosuccess", "n", false, "Show unsuccessful jobs only (failed, blocked or not completed)")
	reportCmd.Flags().BoolVarP(&reportMinimal, "minimal", "m", false, "Omit the summary block")
	reportCmd.Flags().BoolVarP(&reportTopDown, "top-to-bottom", "t", false, "Order rows from first-run jobs to their dependents")
	reportCmd.Flags().BoolVarP(&reportBottomUp, "bottom-to-top", "b", false, "Order rows from last-run jobs to their dependencies")
	reportCmd.Flags().StringVar(&reportMatch, "match", "", "Only include jobs whose name matches a glob pattern")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "Execution end date: latest or earliest (default from config)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to a file instead of stdout")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the summary as JSON")
	reportCmd.Flags().BoolVar(&reportSkipInvalid, "skip-malformed", false, "Skip malformed records with a warning instead of failing")

	reportCmd.Flags().StringVar(&reportRun, "run", "", "Report on an archived run (id or name) instead of a file")
	reportCmd.Flags().StringVar(&reportDB, "db", "", "Archive database path for --run (default from config)")

	reportCmd.MarkFlagsMutuallyExclusive("success", "nosuccess", "minimal")
	reportCmd.MarkFlagsMutuallyExclusive("top-to-bottom", "bottom-to-top")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if (len(args) == 1) == (reportRun != "") {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", errors.New("give either a job file or --run"))
	}

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	opts, err := reportOptions(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid report options", err)
	}

	var records []joblog.Record
	source := reportRun
	if reportRun != "" {
		records, err = loadArchivedRecords(ctx, cfg, reportDB, reportRun)
	} else {
		source = args[0]
		records, err = loadRecords(source, cfg)
	}
	if err != nil {
		return err
	}

	observability.CLILogger.Debug("Loaded records",
		zap.String("source", source),
		zap.Int("records", len(records)))

	render := func(w io.Writer) error {
		if reportJSON {
			if err := writeSummaryJSON(w, records, opts); err != nil {
				return err
			}
			if !reportText {
				return nil
			}
		}
		return report.Render(w, records, opts)
	}

	if reportOutput == "" {
		if err := render(cmd.OutOrStdout()); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to render report", err)
		}
		return nil
	}

	if err := report.WriteFile(reportOutput, render); err != nil {
		observability.CLILogger.Error("Failed to write report",
			zap.String("path", reportOutput),
			zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to write report", err)
	}
	observability.CLILogger.Info("Report written",
		zap.String("path", reportOutput),
		zap.Int("records", len(records)))
	return nil
}

// reportOptions builds report options from flags over configuration.
func reportOptions(cfg *config.Config) (report.Options, error) {
	opts := report.Options{
		NamePattern: reportMatch,
		DateFormat:  cfg.Report.DateFormat,
		EndMode:     cfg.Report.EndMode(),
	}
	switch {
	case reportSuccess:
		opts.Filter = report.FilterSuccess
	case reportNoSuccess:
		opts.Filter = report.FilterNoSuccess
	}
	if reportMinimal {
		opts.Detail = report.DetailMinimal
	}
	switch {
	case reportTopDown:
		opts.Order = report.OrderTopDown
	case reportBottomUp:
		opts.Order = report.OrderBottomUp
	}
	if reportEnd != "" {
		mode, ok := summary.ParseEndMode(reportEnd)
		if !ok {
			return opts, fmt.Errorf("unknown end date mode %q (want latest or earliest)", reportEnd)
		}
		opts.EndMode = mode
	}
	return opts, nil
}

// loadRecords reads a record file, mapping failures to exit codes.
func loadRecords(path string, cfg *config.Config) ([]joblog.Record, error) {
	loadOpts := cfg.Records.LoadOptions()
	loadOpts.SkipMalformed = loadOpts.SkipMalformed || reportSkipInvalid
	loadOpts.Logger = observability.CLILogger

	records, err := joblog.Load(path, loadOpts)
	switch {
	case err == nil:
		return records, nil
	case errors.Is(err, os.ErrNotExist):
		observability.CLILogger.Error("Record file not found", zap.String("path", path))
		return nil, exitError(foundry.ExitFileNotFound, "Record file not found", err)
	case joblog.IsMalformed(err):
		observability.CLILogger.Error("Malformed record",
			zap.String("path", path),
			zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Malformed record file", err)
	default:
		return nil, exitError(foundry.ExitFileReadError, "Failed to read record file", err)
	}
}

func writeSummaryJSON(w io.Writer, records []joblog.Record, opts report.Options) error {
	sum, err := report.Summarize(records, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
