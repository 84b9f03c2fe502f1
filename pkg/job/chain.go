package job

import (
	"strings"

	"github.com/google/uuid"
)

// commandSeparator joins chained commands so the shell stops at the first
// non-zero exit status.
const commandSeparator = " && \\\n"

// Concat composes jobs into a single chain that runs them strictly in order.
//
// The chain consumes the inputs of its constituents except those produced
// earlier in the chain, and exposes the union of their outputs. Explicit
// dependencies pointing at other constituents are dropped. Constituent jobs
// are not modified.
//
// When name is empty, a unique "chain-<uuid>" name is generated.
func Concat(jobs []*Job, name string) (*Job, error) {
	if len(jobs) == 0 {
		return nil, &EmptyChainError{Chain: name}
	}
	if name == "" {
		name = "chain-" + uuid.New().String()
	}

	members := make(map[*Job]bool, len(jobs))
	for _, j := range jobs {
		members[j] = true
	}

	produced := make(map[string]bool)
	inputs := newOrderedSet()
	outputs := newOrderedSet()
	modules := newOrderedSet()
	removable := newOrderedSet()
	commands := make([]string, 0, len(jobs))
	var deps []*Job
	seenDeps := make(map[*Job]bool)

	for _, j := range jobs {
		for _, in := range j.ValidInputs() {
			if !produced[in] {
				inputs.add(in)
			}
		}
		for _, out := range j.ValidOutputs() {
			produced[out] = true
			outputs.add(out)
		}
		modules.add(j.Modules...)
		removable.add(compact(j.Removable)...)
		for _, d := range j.Dependencies {
			if d == nil || members[d] || seenDeps[d] {
				continue
			}
			seenDeps[d] = true
			deps = append(deps, d)
		}
		if !j.IsNoop() {
			commands = append(commands, strings.TrimSpace(j.Command))
		}
	}

	return &Job{
		Name:         name,
		Inputs:       inputs.items,
		Outputs:      outputs.items,
		Dependencies: deps,
		Command:      strings.Join(commands, commandSeparator),
		Modules:      modules.items,
		Removable:    removable.items,
		constituents: append([]*Job(nil), jobs...),
	}, nil
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}
