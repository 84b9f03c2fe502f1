package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/internal/observability"
	"github.com/3leaps/jobgraph/pkg/job"
	"github.com/3leaps/jobgraph/pkg/joblog"
	"github.com/3leaps/jobgraph/pkg/pipeline"
	"github.com/3leaps/jobgraph/pkg/plan"
	"github.com/3leaps/jobgraph/pkg/report"
	"github.com/3leaps/jobgraph/pkg/resolver"
)

var planCmd = &cobra.Command{
	Use:   "plan <manifest>",
	Short: "Expand a pipeline manifest into an ordered job plan",
	Long: `Load a YAML or JSON pipeline manifest, expand its steps into jobs and infer
their dependencies from declared inputs and outputs.

The plan is printed in execution order, one job per line, with its
dependencies. Nothing is executed.

Examples:
  jobgraph plan pipeline.yaml
  jobgraph plan pipeline.yaml --steps 1-3
  jobgraph plan pipeline.yaml --only 'assembly.*'
  jobgraph plan pipeline.yaml --records jobs.jsonl
  jobgraph plan pipeline.yaml --removable`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

var (
	planSteps     string
	planOnly      string
	planRecords   string
	planRemovable bool
	planCommands  bool
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planSteps, "steps", "", "Steps to expand, 1-based ranges (e.g. 1-3,5)")
	planCmd.Flags().StringVar(&planOnly, "only", "", "Only list jobs whose name matches a glob pattern")
	planCmd.Flags().StringVar(&planRecords, "records", "", "Write INACTIVE execution records for the planned jobs to a JSONL file")
	planCmd.Flags().BoolVar(&planRemovable, "removable", false, "List removable outputs instead of the plan")
	planCmd.Flags().BoolVar(&planCommands, "commands", false, "Include job commands in the plan")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	if planOnly != "" && !doublestar.ValidatePattern(planOnly) {
		return exitError(foundry.ExitInvalidArgument, "Invalid --only pattern", fmt.Errorf("bad pattern %q", planOnly))
	}

	m, err := plan.Load(path)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", path),
			zap.Error(err))
		if errors.Is(err, os.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Manifest not found", err)
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", path),
		zap.String("name", m.Name),
		zap.Int("units", len(m.Units)),
		zap.Int("steps", len(m.Steps)))

	steps := m.Steps(plan.WithLogger(observability.CLILogger))
	if planSteps != "" {
		steps, err = pipeline.SelectSteps(steps, planSteps)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --steps", err)
		}
	}

	res, err := pipeline.NewSequencer(observability.CLILogger).Plan(ctx, m.State(), steps)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Plan cancelled", err)
		}
		observability.CLILogger.Error("Failed to build plan", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Failed to build plan", err)
	}

	ordered, err := selectJobs(res.Order(), planOnly)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --only pattern", err)
	}

	if planRecords != "" {
		if err := writePlannedRecords(ctx, planRecords, res, ordered); err != nil {
			observability.CLILogger.Error("Failed to write records",
				zap.String("path", planRecords),
				zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to write records", err)
		}
		observability.CLILogger.Info("Planned records written",
			zap.String("path", planRecords),
			zap.Int("records", len(ordered)))
	}

	out := cmd.OutOrStdout()
	if planRemovable {
		for _, p := range pipeline.RemovableOutputs(ordered) {
			if _, err := fmt.Fprintln(out, p); err != nil {
				return err
			}
		}
		return nil
	}
	return printPlan(out, res, ordered, planCommands)
}

// selectJobs keeps jobs whose name matches pattern, in order.
func selectJobs(jobs []*job.Job, pattern string) ([]*job.Job, error) {
	if pattern == "" {
		return jobs, nil
	}
	var out []*job.Job
	for _, j := range jobs {
		ok, err := doublestar.Match(pattern, j.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func printPlan(w io.Writer, res *resolver.Result, jobs []*job.Job, commands bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "#\tJOB\tDEPENDS ON\tOUTPUTS"
	if commands {
		header += "\tCOMMAND"
	}
	fmt.Fprintln(tw, header)

	for i, j := range jobs {
		deps, err := res.Dependencies(j)
		if err != nil {
			return err
		}
		names := make([]string, len(deps))
		for k, d := range deps {
			names[k] = d.Name
		}
		row := fmt.Sprintf("%d\t%s\t%s\t%s", i+1, j.Name, orDash(strings.Join(names, ",")), orDash(strings.Join(j.ValidOutputs(), ",")))
		if commands {
			row += "\t" + orDash(oneLine(j.Command))
		}
		fmt.Fprintln(tw, row)
	}
	return tw.Flush()
}

// writePlannedRecords emits one INACTIVE record per job so the run can be
// reported before any job starts. Dependencies outside jobs are dropped.
func writePlannedRecords(ctx context.Context, path string, res *resolver.Result, jobs []*job.Job) error {
	ids := make(map[*job.Job]string, len(jobs))
	for _, j := range jobs {
		ids[j] = uuid.NewString()
	}

	return report.WriteFile(path, func(w io.Writer) error {
		jw := joblog.NewWriter(w)
		defer func() { _ = jw.Close() }()

		for _, j := range jobs {
			deps, err := res.Dependencies(j)
			if err != nil {
				return err
			}
			depIDs := []string{}
			for _, d := range deps {
				if id, ok := ids[d]; ok {
					depIDs = append(depIDs, id)
				}
			}
			id := ids[j]
			name := j.Name
			status := joblog.StatusInactive
			rec := &joblog.Record{
				JobID:         &id,
				JobName:       &name,
				DependencyIDs: depIDs,
				Status:        &status,
			}
			if err := jw.Write(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\\\n", " ")), " ")
}
