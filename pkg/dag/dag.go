// Package dag provides a small directed acyclic graph keyed by string IDs.
//
// Nodes remember the order in which they were added. Every query that
// returns several nodes returns them in that declaration order, so
// topological sorts and walks are deterministic: ties between unrelated
// nodes are always broken by declaration order.
//
// An edge from -> to means "to depends on from".
package dag

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNodeNotFound is returned when an operation refers to an unknown node.
var ErrNodeNotFound = errors.New("node not found")

// CycleError reports that the graph contains at least one cycle.
type CycleError struct {
	// Nodes are the nodes that could not be ordered, in declaration order.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving %d node(s): %v", len(e.Nodes), e.Nodes)
}

// Graph is a collection of nodes and their dependencies.
//
// Graph is not safe for concurrent mutation. It is built once and then
// queried.
type Graph struct {
	nodes []*node
	index map[string]int
}

type node struct {
	id         string
	deps       map[int]struct{}
	dependents map[int]struct{}
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddNode adds a node. Adding an existing ID is a no-op and keeps the
// original declaration position.
func (g *Graph) AddNode(id string) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, &node{
		id:         id,
		deps:       make(map[int]struct{}),
		dependents: make(map[int]struct{}),
	})
}

// AddEdge records that toID depends on fromID. Both nodes must exist.
// Adding the same edge twice is a no-op.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, toID)
	}
	from, ok := g.index[fromID]
	if !ok {
		return fmt.Errorf("source %s: %w", fromID, ErrNodeNotFound)
	}
	to, ok := g.index[toID]
	if !ok {
		return fmt.Errorf("destination %s: %w", toID, ErrNodeNotFound)
	}
	g.nodes[to].deps[from] = struct{}{}
	g.nodes[from].dependents[to] = struct{}{}
	return nil
}

// Has reports whether the node exists.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns all node IDs in declaration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.id
	}
	return out
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) ([]string, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return g.ids(g.nodes[i].deps), nil
}

// Dependents returns the nodes that directly depend on id.
func (g *Graph) Dependents(id string) ([]string, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return g.ids(g.nodes[i].dependents), nil
}

// Ancestors returns every node id transitively depends on.
func (g *Graph) Ancestors(id string) ([]string, error) {
	return g.reach(id, func(n *node) map[int]struct{} { return n.deps })
}

// Descendants returns every node that transitively depends on id.
func (g *Graph) Descendants(id string) ([]string, error) {
	return g.reach(id, func(n *node) map[int]struct{} { return n.dependents })
}

func (g *Graph) reach(id string, next func(*node) map[int]struct{}) ([]string, error) {
	start, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	seen := map[int]bool{start: true}
	stack := []int{start}
	var found []int
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for n := range next(g.nodes[cur]) {
			if seen[n] {
				continue
			}
			seen[n] = true
			found = append(found, n)
			stack = append(stack, n)
		}
	}
	sort.Ints(found)
	out := make([]string, len(found))
	for i, n := range found {
		out[i] = g.nodes[n].id
	}
	return out, nil
}

// TopologicalOrder returns all nodes so that every node comes after its
// dependencies. Among nodes that are ready at the same time, the earliest
// declared comes first.
func (g *Graph) TopologicalOrder() ([]string, error) {
	pending := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		pending[i] = len(n.deps)
	}

	// ready is kept sorted by declaration index; it stays small in practice.
	var ready []int
	for i := range g.nodes {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		out = append(out, g.nodes[cur].id)
		for _, d := range sortedKeys(g.nodes[cur].dependents) {
			pending[d]--
			if pending[d] == 0 {
				ready = insertSorted(ready, d)
			}
		}
	}

	if len(out) != len(g.nodes) {
		return out, g.cycleError(pending)
	}
	return out, nil
}

// DetectCycles returns a CycleError if the graph is not acyclic.
func (g *Graph) DetectCycles() error {
	_, err := g.TopologicalOrder()
	return err
}

func (g *Graph) cycleError(pending []int) error {
	var stuck []string
	for i, p := range pending {
		if p > 0 {
			stuck = append(stuck, g.nodes[i].id)
		}
	}
	return &CycleError{Nodes: stuck}
}

func (g *Graph) ids(set map[int]struct{}) []string {
	keys := sortedKeys(set)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = g.nodes[k].id
	}
	return out
}

func sortedKeys(set map[int]struct{}) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
