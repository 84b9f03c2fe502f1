package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/internal/config"
	"github.com/3leaps/jobgraph/internal/observability"
	"github.com/3leaps/jobgraph/pkg/joblog"
	"github.com/3leaps/jobgraph/pkg/plan"
)

var doctorRecords string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the installation and, optionally, a record file.

Examples:
  jobgraph doctor
  jobgraph doctor --records jobs.jsonl`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorRecords, "records", "", "Also check that a record file decodes cleanly")
}

// doctorCheck is one diagnostic. It returns a short detail on success.
type doctorCheck struct {
	name string
	run  func() (string, error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := []doctorCheck{
		{"Go version", func() (string, error) { return runtime.Version(), nil }},
		{"Gofulmen", checkGofulmen},
		{"Manifest schema", checkManifestSchema},
		{"Config directory", checkConfigDir},
		{"Environment", func() (string, error) { return runtime.GOOS + "/" + runtime.GOARCH, nil }},
	}
	if doctorRecords != "" {
		checks = append(checks, doctorCheck{"Record file", func() (string, error) { return checkRecordFile(doctorRecords) }})
	}

	observability.CLILogger.Info("=== " + config.AppName + " doctor ===")
	failed := 0
	for i, c := range checks {
		detail, err := c.run()
		label := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			failed++
			observability.CLILogger.Error(label+" failed", zap.Error(err))
			continue
		}
		observability.CLILogger.Info(label+" ok", zap.String("detail", detail))
	}

	if failed > 0 {
		return exitError(foundry.ExitInvalidArgument, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	observability.CLILogger.Info("All checks passed")
	return nil
}

func checkGofulmen() (string, error) {
	v := crucible.GetVersion()
	if v.Gofulmen == "" {
		return "", fmt.Errorf("gofulmen version unavailable")
	}
	return "v" + v.Gofulmen, nil
}

// checkManifestSchema validates a minimal manifest against the embedded
// schema, which also compiles it.
func checkManifestSchema() (string, error) {
	doc := []byte(`{"version":"1.0","steps":[{"name":"check","jobs":[{"command":"true"}]}]}`)
	if err := plan.ValidateRaw(doc); err != nil {
		return "", err
	}
	return plan.SchemaID, nil
}

func checkConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.AppName), nil
}

func checkRecordFile(path string) (string, error) {
	records, err := joblog.Load(path, joblog.LoadOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d records, %d blocked", len(records), len(joblog.Blocked(records))), nil
}
