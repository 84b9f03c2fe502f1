// Package job defines the declarative job descriptor used to build
// pipelines.
//
// A Job is a shell command together with the files it reads and writes.
// The command is opaque: nothing in this module parses it. Execution order
// is derived from the declared inputs and outputs by the resolver package,
// and several jobs can be fused into one unit with Concat.
package job

import "strings"

// Job describes one unit of work.
//
// Jobs are created by pipeline steps at graph-build time and are treated as
// immutable once handed to the resolver. Only Name may be overridden after
// construction (typically right after a step helper returns the job).
type Job struct {
	// Name identifies the job within a submission batch.
	Name string

	// Inputs are the paths consumed by Command. Empty entries are allowed
	// and ignored; helpers use them for optional inputs.
	Inputs []string

	// Outputs are the paths produced by Command.
	Outputs []string

	// Dependencies are explicitly declared upstream jobs. Dependencies
	// inferred from Inputs/Outputs are kept by the resolver, not here.
	Dependencies []*Job

	// Command is the fully substituted shell command. Empty means no-op.
	Command string

	// Modules are the environment modules required at execution time.
	Modules []string

	// Removable lists outputs that may be purged once consumers succeed.
	Removable []string

	constituents []*Job
}

// Option configures a Job built with New.
type Option func(*Job)

// New creates a job with the given inputs, outputs and command.
func New(inputs, outputs []string, command string, opts ...Option) *Job {
	j := &Job{
		Inputs:  append([]string(nil), inputs...),
		Outputs: append([]string(nil), outputs...),
		Command: command,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// WithName sets the job name.
func WithName(name string) Option {
	return func(j *Job) { j.Name = name }
}

// WithModules sets the environment modules.
func WithModules(modules ...string) Option {
	return func(j *Job) { j.Modules = append(j.Modules, modules...) }
}

// WithRemovable marks outputs as temporary.
func WithRemovable(paths ...string) Option {
	return func(j *Job) { j.Removable = append(j.Removable, paths...) }
}

// WithDependencies adds explicit upstream jobs.
func WithDependencies(deps ...*Job) Option {
	return func(j *Job) { j.Dependencies = append(j.Dependencies, deps...) }
}

// IsNoop reports whether the job has no command. No-op jobs still take part
// in dependency inference.
func (j *Job) IsNoop() bool {
	return strings.TrimSpace(j.Command) == ""
}

// ValidInputs returns Inputs without empty entries.
func (j *Job) ValidInputs() []string {
	return compact(j.Inputs)
}

// ValidOutputs returns Outputs without empty entries.
func (j *Job) ValidOutputs() []string {
	return compact(j.Outputs)
}

// IsChain reports whether the job was produced by Concat.
func (j *Job) IsChain() bool {
	return len(j.constituents) > 0
}

// Constituents returns the jobs a chain was built from, in order.
// It returns nil for a plain job.
func (j *Job) Constituents() []*Job {
	if len(j.constituents) == 0 {
		return nil
	}
	return append([]*Job(nil), j.constituents...)
}

// Name joins the non-empty parts with ".", the naming convention used by
// steps: step identity, unit of work, then parameter values.
//
//	Name("assembly", "sampleA", "coverage_cutoff30X") == "assembly.sampleA.coverage_cutoff30X"
func Name(parts ...string) string {
	return strings.Join(compact(parts), ".")
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
