// Package resolver infers the dependency graph of a batch of jobs from the
// files they declare.
//
// Jobs are processed in declaration order. Each job's inputs are looked up
// in a table mapping a path to the job that most recently declared it as an
// output; a hit becomes a dependency edge. The job's own outputs are then
// registered, replacing any earlier producer of the same path, so a later
// consumer depends on the most recent producer.
//
// The producer table belongs to a single Resolve call and is discarded once
// the graph is built.
package resolver

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/pkg/dag"
	"github.com/3leaps/jobgraph/pkg/job"
)

// Option configures Resolve.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Result is the resolved dependency graph of a batch of jobs.
type Result struct {
	jobs   []*job.Job
	byName map[string]*job.Job
	graph  *dag.Graph
}

// Resolve builds the dependency graph for jobs.
//
// Returns an error if:
//   - two jobs share a name (*job.DuplicateJobNameError)
//   - explicit dependencies introduce a cycle (*dag.CycleError)
//
// Inputs without a known producer are assumed to exist already and do not
// produce edges. Explicit dependencies on jobs outside the batch are
// ignored.
func Resolve(jobs []*job.Job, opts ...Option) (*Result, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := job.CheckUniqueNames(jobs); err != nil {
		return nil, err
	}

	r := &Result{
		jobs:   append([]*job.Job(nil), jobs...),
		byName: make(map[string]*job.Job, len(jobs)),
		graph:  dag.New(),
	}
	members := make(map[*job.Job]bool, len(jobs))
	for _, j := range jobs {
		r.byName[j.Name] = j
		r.graph.AddNode(j.Name)
		members[j] = true
	}

	producers := make(map[string]*job.Job)
	for _, j := range jobs {
		for _, in := range j.ValidInputs() {
			producer, ok := producers[in]
			if !ok || producer == j {
				continue
			}
			o.logger.Debug("Inferred dependency",
				zap.String("job", j.Name),
				zap.String("depends_on", producer.Name),
				zap.String("path", in))
			if err := r.graph.AddEdge(producer.Name, j.Name); err != nil {
				return nil, fmt.Errorf("link %s -> %s: %w", producer.Name, j.Name, err)
			}
		}

		for _, dep := range j.Dependencies {
			if dep == nil {
				continue
			}
			if !members[dep] {
				o.logger.Debug("Ignoring explicit dependency outside batch",
					zap.String("job", j.Name),
					zap.String("depends_on", dep.Name))
				continue
			}
			if err := r.graph.AddEdge(dep.Name, j.Name); err != nil {
				return nil, fmt.Errorf("link %s -> %s: %w", dep.Name, j.Name, err)
			}
		}

		for _, out := range j.ValidOutputs() {
			if prev, ok := producers[out]; ok && prev != j {
				o.logger.Debug("Output redeclared; later job becomes producer",
					zap.String("path", out),
					zap.String("previous", prev.Name),
					zap.String("producer", j.Name))
			}
			producers[out] = j
		}
	}

	if err := r.graph.DetectCycles(); err != nil {
		return nil, err
	}
	return r, nil
}

// Jobs returns the jobs in declaration order.
func (r *Result) Jobs() []*job.Job {
	return append([]*job.Job(nil), r.jobs...)
}

// Job returns the job with the given name.
func (r *Result) Job(name string) (*job.Job, bool) {
	j, ok := r.byName[name]
	return j, ok
}

// Graph returns the underlying graph keyed by job name.
func (r *Result) Graph() *dag.Graph {
	return r.graph
}

// Order returns the jobs in a stable topological order: dependencies first,
// ties broken by declaration order.
func (r *Result) Order() []*job.Job {
	names, err := r.graph.TopologicalOrder()
	if err != nil {
		// Resolve rejects cyclic graphs, so this cannot happen.
		panic(err)
	}
	return r.lookup(names)
}

// Dependencies returns the direct dependencies of j, explicit and inferred.
func (r *Result) Dependencies(j *job.Job) ([]*job.Job, error) {
	names, err := r.graph.Dependencies(j.Name)
	if err != nil {
		return nil, err
	}
	return r.lookup(names), nil
}

// Dependents returns the jobs that directly depend on j.
func (r *Result) Dependents(j *job.Job) ([]*job.Job, error) {
	names, err := r.graph.Dependents(j.Name)
	if err != nil {
		return nil, err
	}
	return r.lookup(names), nil
}

// DependsOn reports whether a depends on b directly or transitively.
func (r *Result) DependsOn(a, b *job.Job) bool {
	ancestors, err := r.graph.Ancestors(a.Name)
	if err != nil {
		return false
	}
	for _, name := range ancestors {
		if name == b.Name {
			return true
		}
	}
	return false
}

func (r *Result) lookup(names []string) []*job.Job {
	out := make([]*job.Job, 0, len(names))
	for _, n := range names {
		out = append(out, r.byName[n])
	}
	return out
}

// IsCycle reports whether err was caused by a dependency cycle.
func IsCycle(err error) bool {
	var cycleErr *dag.CycleError
	return errors.As(err, &cycleErr)
}
