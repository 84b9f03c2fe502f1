package joblog

import (
	"github.com/3leaps/jobgraph/pkg/dag"
)

// Graph builds the dependency graph of records keyed by job id.
//
// Records without a job id are left out. Dependency ids that name no record
// in the collection are ignored, as are repeated ids after the first.
func Graph(records []Record) *dag.Graph {
	g := dag.New()
	for i := range records {
		if id := records[i].ID(); id != "" {
			g.AddNode(id)
		}
	}
	for i := range records {
		id := records[i].ID()
		if id == "" {
			continue
		}
		for _, dep := range records[i].DependencyIDs {
			if dep == id || !g.Has(dep) {
				continue
			}
			// Both ends exist and self edges are skipped, so this cannot fail.
			_ = g.AddEdge(dep, id)
		}
	}
	return g
}

// Blocked returns the ids of records that have not reached a terminal
// status and have a FAILED ancestor, in input order.
//
// A blocked job can never start; it is reported among unsuccessful jobs.
// When the dependency ids form a cycle, ancestors are still collected by
// reachability.
func Blocked(records []Record) []string {
	g := Graph(records)

	failed := make(map[string]bool)
	for i := range records {
		if records[i].EffectiveStatus() == StatusFailed {
			failed[records[i].ID()] = true
		}
	}
	if len(failed) == 0 {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	for i := range records {
		id := records[i].ID()
		if id == "" || seen[id] || records[i].EffectiveStatus().Terminal() {
			continue
		}
		ancestors, err := g.Ancestors(id)
		if err != nil {
			continue
		}
		for _, a := range ancestors {
			if failed[a] {
				out = append(out, id)
				seen[id] = true
				break
			}
		}
	}
	return out
}
