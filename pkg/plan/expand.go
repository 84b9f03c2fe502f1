package plan

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/pkg/job"
	"github.com/3leaps/jobgraph/pkg/pipeline"
)

// placeholder matches {name} where name is an identifier, optionally
// dotted. Matches preceded by '$' are shell variables and are left alone;
// forms such as awk '{print $1}' never match.
var placeholder = regexp.MustCompile(`\$?\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// State returns the pipeline state described by the manifest.
func (m *Manifest) State() *pipeline.State {
	st := &pipeline.State{Params: m.Params}
	for _, u := range m.Units {
		st.Units = append(st.Units, pipeline.Unit{Name: u.Name, Params: u.Params})
	}
	return st
}

// Option configures Steps.
type Option func(*expander)

// WithLogger sets the logger used while expanding steps.
func WithLogger(logger *zap.Logger) Option {
	return func(e *expander) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Steps converts the manifest into pipeline steps.
//
// The returned steps share a registry of the jobs built so far, so "after"
// references resolve against earlier expansions of the same run. Each call
// returns a fresh registry; the steps are meant to be run once, in order.
func (m *Manifest) Steps(opts ...Option) []pipeline.Step {
	e := &expander{logger: zap.NewNop(), built: make(map[string]*job.Job)}
	for _, opt := range opts {
		opt(e)
	}

	steps := make([]pipeline.Step, 0, len(m.Steps))
	for _, spec := range m.Steps {
		spec := spec
		steps = append(steps, pipeline.Step{
			Name: spec.Name,
			Build: func(ctx context.Context, st *pipeline.State) ([]*job.Job, error) {
				return e.build(ctx, spec, st)
			},
		})
	}
	return steps
}

type expander struct {
	logger *zap.Logger
	built  map[string]*job.Job
}

// binding is one expansion of a step: an optional unit plus one
// combination of sweep values.
type binding struct {
	unit   *pipeline.Unit
	values map[string]string
	// suffix lists the unit name and sweep values, for default names.
	suffix []string
}

func (e *expander) build(ctx context.Context, spec StepSpec, st *pipeline.State) ([]*job.Job, error) {
	var units []*pipeline.Unit
	if spec.ForEach == ForEachUnit {
		for i := range st.Units {
			units = append(units, &st.Units[i])
		}
	} else {
		units = []*pipeline.Unit{nil}
	}

	var jobs []*job.Job
	for _, u := range units {
		bindings, err := expandSweep(spec.Sweep, u, st)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			built, err := e.buildBinding(spec, b)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, built...)
		}
	}
	return jobs, nil
}

func (e *expander) buildBinding(spec StepSpec, b binding) ([]*job.Job, error) {
	var jobs []*job.Job
	for i, js := range spec.Jobs {
		j, err := e.buildJob(spec, js, i, b)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	if spec.Chain == "" {
		for _, j := range jobs {
			e.built[j.Name] = j
		}
		return jobs, nil
	}

	name, err := expand(spec.Chain, b.values)
	if err != nil {
		return nil, fmt.Errorf("chain name: %w", err)
	}
	chain, err := job.Concat(jobs, name)
	if err != nil {
		return nil, err
	}
	// Later jobs naming a constituent depend on the whole chain.
	e.built[chain.Name] = chain
	for _, j := range jobs {
		e.built[j.Name] = chain
	}
	return []*job.Job{chain}, nil
}

func (e *expander) buildJob(spec StepSpec, js JobSpec, index int, b binding) (*job.Job, error) {
	name := js.Name
	if name == "" {
		parts := append([]string{spec.Name}, b.suffix...)
		if len(spec.Jobs) > 1 {
			parts = append(parts, fmt.Sprint(index+1))
		}
		name = job.Name(parts...)
	}

	name, err := expand(name, b.values)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", index+1, err)
	}
	command, err := expand(js.Command, b.values)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", name, err)
	}

	lists := make([][]string, 5)
	for i, src := range [][]string{js.Inputs, js.Outputs, js.Modules, js.Removable, js.After} {
		if lists[i], err = expandAll(src, b.values); err != nil {
			return nil, fmt.Errorf("job %s: %w", name, err)
		}
	}
	inputs, outputs, modules, removable, after := lists[0], lists[1], lists[2], lists[3], lists[4]

	var deps []*job.Job
	for _, ref := range after {
		dep, ok := e.built[ref]
		if !ok {
			e.logger.Warn("Ignoring dependency on job not built in this run",
				zap.String("job", name),
				zap.String("after", ref))
			continue
		}
		deps = append(deps, dep)
	}

	return job.New(inputs, outputs, command,
		job.WithName(name),
		job.WithModules(modules...),
		job.WithRemovable(removable...),
		job.WithDependencies(deps...),
	), nil
}

// expandSweep returns one binding per combination of sweep values, in the
// order the values are listed, last key varying fastest.
func expandSweep(keys []string, u *pipeline.Unit, st *pipeline.State) ([]binding, error) {
	base := make(map[string]string)
	bindScalars(base, st.Params)
	var suffix []string
	if u != nil {
		bindScalars(base, u.Params)
		base["unit"] = u.Name
		suffix = append(suffix, u.Name)
	}

	bindings := []binding{{unit: u, values: base, suffix: suffix}}
	for _, key := range keys {
		raw, ok := lookupParam(key, u, st)
		if !ok {
			return nil, fmt.Errorf("sweep parameter %q is not defined", key)
		}
		var values []string
		if err := mapstructure.WeakDecode(raw, &values); err != nil {
			return nil, fmt.Errorf("sweep parameter %q: %w", key, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("sweep parameter %q has no values", key)
		}

		next := make([]binding, 0, len(bindings)*len(values))
		for _, b := range bindings {
			for _, v := range values {
				vals := make(map[string]string, len(b.values)+1)
				for k, x := range b.values {
					vals[k] = x
				}
				vals[key] = v
				next = append(next, binding{
					unit:   u,
					values: vals,
					suffix: append(append([]string(nil), b.suffix...), key+v),
				})
			}
		}
		bindings = next
	}
	return bindings, nil
}

func lookupParam(key string, u *pipeline.Unit, st *pipeline.State) (any, bool) {
	if u != nil {
		if v, ok := u.Params[key]; ok {
			return v, true
		}
	}
	v, ok := st.Params[key]
	return v, ok
}

// bindScalars records every scalar parameter as a placeholder value.
func bindScalars(dst map[string]string, params map[string]any) {
	for k, v := range params {
		switch v.(type) {
		case nil, []any, map[string]any:
			continue
		}
		dst[k] = fmt.Sprint(v)
	}
}

func expand(s string, values map[string]string) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		if strings.HasPrefix(m, "$") {
			return m
		}
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return m
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("unknown placeholder {%s} in %q", missing, s)
	}
	return out, nil
}

func expandAll(in []string, values map[string]string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		v, err := expand(s, values)
		if err != nil {
			return nil, err
		}
		out[i] = strings.TrimSpace(v)
	}
	return out, nil
}
