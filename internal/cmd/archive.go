package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/internal/config"
	"github.com/3leaps/jobgraph/internal/observability"
	"github.com/3leaps/jobgraph/pkg/archive"
	"github.com/3leaps/jobgraph/pkg/joblog"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Store and browse execution records in a local or libsql archive",
	Long: `Import record files into an archive database so past runs can be listed
and reported on later with "jobgraph report --run".

The archive defaults to archive.db in the user config directory. Use --db,
JOBGRAPH_ARCHIVE_PATH or JOBGRAPH_ARCHIVE_URL (libsql) to choose another.

Examples:
  jobgraph archive import jobs.jsonl --name nightly
  jobgraph archive list
  jobgraph archive show nightly
  jobgraph report --run nightly --nosuccess`,
}

var archiveImportCmd = &cobra.Command{
	Use:   "import <job_file>",
	Short: "Import a record file as a new run",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveImport,
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runArchiveList,
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <run>",
	Short: "Show a run and its record counts per status",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveShow,
}

var archiveDeleteCmd = &cobra.Command{
	Use:   "delete <run>",
	Short: "Delete a run and its records",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveDelete,
}

var (
	archiveDB   string
	archiveName string
	archiveJSON bool
)

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveImportCmd, archiveListCmd, archiveShowCmd, archiveDeleteCmd)

	archiveCmd.PersistentFlags().StringVar(&archiveDB, "db", "", "Archive database path (default from config)")
	archiveImportCmd.Flags().StringVar(&archiveName, "name", "", "Run name (default: the generated run id)")
	archiveImportCmd.Flags().BoolVar(&reportSkipInvalid, "skip-malformed", false, "Skip malformed records with a warning instead of failing")
	archiveListCmd.Flags().BoolVar(&archiveJSON, "json", false, "Print runs as JSON")
	archiveShowCmd.Flags().BoolVar(&archiveJSON, "json", false, "Print the run as JSON")
}

// openArchive opens and migrates the archive named by path, or by
// configuration when path is empty.
func openArchive(ctx context.Context, cfg *config.Config, path string) (*sql.DB, error) {
	storeCfg := cfg.Archive.StoreConfig()
	if path != "" {
		storeCfg = archive.Config{Path: path}
	}

	db, err := archive.Open(ctx, storeCfg)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open archive", err)
	}
	if err := archive.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to migrate archive", err)
	}
	return db, nil
}

// resolveRun maps an unknown run to an invalid-argument exit.
func resolveRun(ctx context.Context, db *sql.DB, ref string) (*archive.Run, error) {
	run, err := archive.GetRun(ctx, db, ref)
	if errors.Is(err, archive.ErrRunNotFound) {
		return nil, exitError(foundry.ExitInvalidArgument, "Unknown run", err)
	}
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to read archive", err)
	}
	return run, nil
}

// loadArchivedRecords returns the records of an archived run.
func loadArchivedRecords(ctx context.Context, cfg *config.Config, path, ref string) ([]joblog.Record, error) {
	db, err := openArchive(ctx, cfg, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	run, err := resolveRun(ctx, db, ref)
	if err != nil {
		return nil, err
	}
	records, err := archive.Records(ctx, db, run.RunID)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to read archived records", err)
	}
	return records, nil
}

func runArchiveImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	records, err := loadRecords(path, cfg)
	if err != nil {
		return err
	}

	db, err := openArchive(ctx, cfg, archiveDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	run, err := archive.Import(ctx, db, archiveName, path, records)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to import records", err)
	}

	observability.CLILogger.Info("Imported run",
		zap.String("run_id", run.RunID),
		zap.String("name", run.Name),
		zap.Int("records", run.RecordCount))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), run.RunID)
	return err
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	db, err := openArchive(ctx, cfg, archiveDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runs, err := archive.ListRuns(ctx, db)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list runs", err)
	}
	if runs == nil {
		runs = []archive.Run{}
	}

	if archiveJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN ID\tNAME\tRECORDS\tIMPORTED\tSOURCE")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.RunID, r.Name, r.RecordCount, r.ImportedAt.Format(time.RFC3339), r.Source)
	}
	return tw.Flush()
}

// runDetail is the JSON form of archive show.
type runDetail struct {
	archive.Run
	Statuses []archive.StatusCount `json:"statuses"`
}

func runArchiveShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	db, err := openArchive(ctx, cfg, archiveDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	run, err := resolveRun(ctx, db, args[0])
	if err != nil {
		return err
	}
	counts, err := archive.StatusCounts(ctx, db, run.RunID)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to count statuses", err)
	}

	if archiveJSON {
		if counts == nil {
			counts = []archive.StatusCount{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: *run, Statuses: counts})
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Run:      %s\n", run.RunID)
	_, _ = fmt.Fprintf(out, "Name:     %s\n", run.Name)
	_, _ = fmt.Fprintf(out, "Source:   %s\n", run.Source)
	_, _ = fmt.Fprintf(out, "Imported: %s\n", run.ImportedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(out, "Records:  %d\n", run.RecordCount)
	for _, c := range counts {
		_, _ = fmt.Fprintf(out, "  %-9s %d\n", c.Status, c.Count)
	}
	return nil
}

func runArchiveDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	db, err := openArchive(ctx, cfg, archiveDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	run, err := resolveRun(ctx, db, args[0])
	if err != nil {
		return err
	}
	if err := archive.DeleteRun(ctx, db, run.RunID); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to delete run", err)
	}
	observability.CLILogger.Info("Deleted run",
		zap.String("run_id", run.RunID),
		zap.String("name", run.Name))
	return nil
}
