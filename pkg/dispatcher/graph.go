package dispatcher

import (
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

type node struct {
	name   string
	task   task.Task
	config task.Config
	prerun task.Prerun
	deps   []string
}

// RunGraph is the set of tasks that run for one block, in plan order, with dependencies limited
// to tasks that also run.
type RunGraph struct {
	Era     task.Era
	Skipped []string

	nodes []*node
	index map[string]*node
}

func newRunGraph(era task.Era) *RunGraph {
	return &RunGraph{Era: era, index: make(map[string]*node)}
}

func (g *RunGraph) add(n *node) {
	g.nodes = append(g.nodes, n)
	g.index[n.name] = n
}

// Len returns the number of running tasks.
func (g *RunGraph) Len() int { return len(g.nodes) }

// Names returns the running tasks in plan order.
func (g *RunGraph) Names() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.name
	}

	return out
}

// Has reports whether the task runs.
func (g *RunGraph) Has(name string) bool {
	_, ok := g.index[name]

	return ok
}

// Dependencies returns the filtered dependencies of a running task.
func (g *RunGraph) Dependencies(name string) []string {
	n, ok := g.index[name]
	if !ok {
		return nil
	}

	return append([]string(nil), n.deps...)
}

// Config returns the effective config of a running task.
func (g *RunGraph) Config(name string) task.Config {
	n, ok := g.index[name]
	if !ok {
		return nil
	}

	return n.config
}

// filterDeps keeps only dependencies that are part of the graph.
func (g *RunGraph) filterDeps() {
	for _, n := range g.nodes {
		kept := n.deps[:0:0]

		for _, d := range n.deps {
			if _, ok := g.index[d]; ok {
				kept = append(kept, d)
			}
		}

		n.deps = kept
	}
}

// order returns the running tasks so that every task follows its dependencies.
func (g *RunGraph) order() ([]string, error) {
	return topoSort(g.Names(), func(name string) []string { return g.index[name].deps })
}

// topoSort orders names so that each follows its deps, preferring input order. deps must only
// return names from the input. Names that cannot be ordered are reported in a CycleError.
func topoSort(names []string, deps func(string) []string) ([]string, error) {
	pending := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))

	for _, n := range names {
		ds := deps(n)
		pending[n] = len(ds)

		for _, d := range ds {
			dependents[d] = append(dependents[d], n)
		}
	}

	out := make([]string, 0, len(names))
	emitted := make(map[string]bool, len(names))

	for len(out) < len(names) {
		progressed := false

		for _, n := range names {
			if emitted[n] || pending[n] > 0 {
				continue
			}

			emitted[n] = true
			progressed = true
			out = append(out, n)

			for _, d := range dependents[n] {
				pending[d]--
			}
		}

		if !progressed {
			var stuck []string

			for _, n := range names {
				if !emitted[n] {
					stuck = append(stuck, n)
				}
			}

			return nil, &CycleError{Tasks: stuck}
		}
	}

	return out, nil
}
