// Package pipeline sequences named steps into a flat, ordered list of jobs.
//
// A Step expands the pipeline state (units of work such as samples, plus
// global parameters) into zero or more jobs. The Sequencer runs every step
// once, in declared order, concatenates their jobs and hands the result to
// the resolver, so dependency inference spans step boundaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/pkg/job"
	"github.com/3leaps/jobgraph/pkg/resolver"
)

// Unit is one unit of work, typically a sample.
type Unit struct {
	Name   string
	Params map[string]any
}

// DecodeParams decodes the unit parameters into out.
func (u Unit) DecodeParams(out any) error {
	return decodeParams(u.Params, out)
}

// State is the input every step receives.
type State struct {
	Units  []Unit
	Params map[string]any
}

// DecodeParams decodes the global parameters into out.
//
// String values are converted to numbers, booleans and durations where the
// target field asks for them, so parameters read from text configuration
// can be consumed directly.
func (s *State) DecodeParams(out any) error {
	return decodeParams(s.Params, out)
}

func decodeParams(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// BuildFunc expands the state into jobs.
type BuildFunc func(ctx context.Context, st *State) ([]*job.Job, error)

// Step is a named generator of jobs for one stage of the pipeline.
type Step struct {
	Name  string
	Build BuildFunc
}

// StepError identifies the step that aborted a run.
type StepError struct {
	// Step is the step name.
	Step string
	// Index is the 1-based position of the step in the run.
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrNilBuild is returned for a step without a build function.
var ErrNilBuild = errors.New("step has no build function")

// Sequencer runs steps in order.
type Sequencer struct {
	logger *zap.Logger
}

// NewSequencer creates a Sequencer. A nil logger disables logging.
func NewSequencer(logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{logger: logger}
}

// Run invokes every step exactly once and returns their jobs concatenated
// in step order.
//
// The run aborts on the first failing step with a *StepError; nothing is
// returned in that case. Name collisions across the whole run are reported
// as *job.DuplicateJobNameError.
func (s *Sequencer) Run(ctx context.Context, st *State, steps []Step) ([]*job.Job, error) {
	if st == nil {
		st = &State{}
	}

	var jobs []*job.Job
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if step.Build == nil {
			return nil, &StepError{Step: step.Name, Index: i + 1, Err: ErrNilBuild}
		}

		s.logger.Debug("Running step", zap.Int("index", i+1), zap.String("step", step.Name))
		stepJobs, err := step.Build(ctx, st)
		if err != nil {
			s.logger.Error("Step failed", zap.String("step", step.Name), zap.Error(err))
			return nil, &StepError{Step: step.Name, Index: i + 1, Err: err}
		}
		for _, j := range stepJobs {
			if j == nil {
				return nil, &StepError{Step: step.Name, Index: i + 1, Err: errors.New("step returned a nil job")}
			}
		}

		s.logger.Info("Step expanded", zap.String("step", step.Name), zap.Int("jobs", len(stepJobs)))
		jobs = append(jobs, stepJobs...)
	}

	if err := job.CheckUniqueNames(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Plan runs the steps and resolves the dependency graph of their jobs.
func (s *Sequencer) Plan(ctx context.Context, st *State, steps []Step) (*resolver.Result, error) {
	jobs, err := s.Run(ctx, st, steps)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(jobs, resolver.WithLogger(s.logger))
}

// RemovableOutputs returns the removable outputs of jobs, in order and
// without duplicates.
func RemovableOutputs(jobs []*job.Job) []string {
	seen := make(map[string]bool)
	var out []string
	for _, j := range jobs {
		for _, p := range j.Removable {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
