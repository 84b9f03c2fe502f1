package dag

import "fmt"

// Direction selects how Walk traverses the graph.
type Direction int

const (
	// TopDown visits ancestors before descendants.
	TopDown Direction = iota
	// BottomUp visits descendants before ancestors.
	BottomUp
)

func (d Direction) String() string {
	switch d {
	case TopDown:
		return "top-down"
	case BottomUp:
		return "bottom-up"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Visit is one step of a walk.
type Visit struct {
	ID string
	// Depth is the length of the longest path from a starting node
	// (a root for TopDown, a leaf for BottomUp).
	Depth int
}

// Walk performs a depth-first traversal and returns every node exactly once.
//
// For TopDown the walk starts at the roots (nodes without dependencies) in
// declaration order and follows dependents. A node is emitted as soon as
// the last of its dependencies has been emitted, so ancestors always come
// before descendants while related nodes stay grouped together. BottomUp
// is the mirror image, starting at the leaves and following dependencies.
//
// A CycleError is returned, along with the nodes visited so far, when some
// nodes are unreachable because they sit on a cycle.
func (g *Graph) Walk(dir Direction) ([]Visit, error) {
	inward := func(n *node) map[int]struct{} { return n.deps }
	outward := func(n *node) map[int]struct{} { return n.dependents }
	if dir == BottomUp {
		inward, outward = outward, inward
	}

	pending := make([]int, len(g.nodes))
	depth := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		pending[i] = len(inward(n))
	}

	out := make([]Visit, 0, len(g.nodes))
	var visit func(i int)
	visit = func(i int) {
		out = append(out, Visit{ID: g.nodes[i].id, Depth: depth[i]})
		for _, next := range sortedKeys(outward(g.nodes[i])) {
			if depth[i]+1 > depth[next] {
				depth[next] = depth[i] + 1
			}
			pending[next]--
			if pending[next] == 0 {
				visit(next)
			}
		}
	}

	for i, n := range g.nodes {
		if len(inward(n)) == 0 {
			visit(i)
		}
	}

	if len(out) != len(g.nodes) {
		return out, g.cycleError(pending)
	}
	return out, nil
}
