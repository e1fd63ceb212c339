// Package dag orders ETL scripts by their declared dependencies.
//
// A Graph holds one node per script and an edge from every dependency to its
// dependent. It detects cycles, produces a deterministic execution order and
// groups scripts into levels that only depend on earlier levels.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

// CycleError reports a dependency cycle. Path starts and ends on the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Graph is a dependency graph keyed by node name. T is the payload stored for
// each node (the ETL runner stores the script file).
type Graph[T any] struct {
	data       map[string]T
	dependents map[string][]string
	dependsOn  map[string][]string
}

// New returns an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{
		data:       make(map[string]T),
		dependents: make(map[string][]string),
		dependsOn:  make(map[string][]string),
	}
}

// Add inserts a node, replacing the payload of an existing one.
func (g *Graph[T]) Add(name string, data T) {
	if _, ok := g.data[name]; !ok {
		g.dependents[name] = nil
		g.dependsOn[name] = nil
	}
	g.data[name] = data
}

// Depend records that dependent must run after dependency.
func (g *Graph[T]) Depend(dependent, dependency string) error {
	if _, ok := g.data[dependent]; !ok {
		return fmt.Errorf("unknown node %q", dependent)
	}
	if _, ok := g.data[dependency]; !ok {
		return fmt.Errorf("unknown dependency %q of %q", dependency, dependent)
	}
	if dependent == dependency {
		return &CycleError{Path: []string{dependent, dependent}}
	}
	if !slices.Contains(g.dependsOn[dependent], dependency) {
		g.dependsOn[dependent] = append(g.dependsOn[dependent], dependency)
		g.dependents[dependency] = append(g.dependents[dependency], dependent)
	}
	return nil
}

// Get returns the payload of a node.
func (g *Graph[T]) Get(name string) (T, bool) {
	d, ok := g.data[name]
	return d, ok
}

// Has reports whether name is a node of the graph.
func (g *Graph[T]) Has(name string) bool {
	_, ok := g.data[name]
	return ok
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int { return len(g.data) }

// Edges returns the number of dependency edges.
func (g *Graph[T]) Edges() int {
	n := 0
	for _, deps := range g.dependsOn {
		n += len(deps)
	}
	return n
}

// Names returns every node name, sorted.
func (g *Graph[T]) Names() []string {
	names := make([]string, 0, len(g.data))
	for name := range g.data {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DependenciesOf returns the direct dependencies of name, sorted.
func (g *Graph[T]) DependenciesOf(name string) []string {
	return sorted(g.dependsOn[name])
}

// DependentsOf returns the direct dependents of name, sorted.
func (g *Graph[T]) DependentsOf(name string) []string {
	return sorted(g.dependents[name])
}

// FindCycle returns a cycle when the graph has one.
func (g *Graph[T]) FindCycle() *CycleError {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.data))
	var stack []string

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		state[name] = onStack
		stack = append(stack, name)
		for _, next := range sorted(g.dependents[name]) {
			switch state[next] {
			case onStack:
				start := slices.Index(stack, next)
				path := append(slices.Clone(stack[start:]), next)
				return &CycleError{Path: path}
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range g.Names() {
		if state[name] == unvisited {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Levels groups nodes so that every node only depends on nodes in earlier
// levels. Nodes within a level are sorted.
func (g *Graph[T]) Levels() ([][]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, cycle
	}

	remaining := make(map[string]int, len(g.data))
	var current []string
	for name, deps := range g.dependsOn {
		remaining[name] = len(deps)
		if len(deps) == 0 {
			current = append(current, name)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		slices.Sort(current)
		levels = append(levels, current)

		var next []string
		for _, name := range current {
			for _, dep := range g.dependents[name] {
				remaining[dep]--
				if remaining[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}
	return levels, nil
}

// Order returns every node with dependencies before dependents, ties broken
// by level and then name.
func (g *Graph[T]) Order() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(g.data))
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Downstream returns the given nodes and everything that transitively depends
// on them, sorted. Unknown names are ignored.
func (g *Graph[T]) Downstream(names ...string) []string {
	return g.walk(g.dependents, names, true)
}

// Upstream returns everything name transitively depends on, sorted.
func (g *Graph[T]) Upstream(name string) []string {
	return g.walk(g.dependsOn, []string{name}, false)
}

func (g *Graph[T]) walk(adj map[string][]string, from []string, includeStart bool) []string {
	seen := make(map[string]bool)
	var queue []string
	for _, name := range from {
		if !g.Has(name) {
			continue
		}
		if includeStart {
			seen[name] = true
		}
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, next := range adj[name] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Roots returns nodes without dependencies.
func (g *Graph[T]) Roots() []string {
	var out []string
	for name, deps := range g.dependsOn {
		if len(deps) == 0 {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Leaves returns nodes nothing depends on.
func (g *Graph[T]) Leaves() []string {
	var out []string
	for name, deps := range g.dependents {
		if len(deps) == 0 {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Subgraph returns a graph restricted to names and the edges among them.
func (g *Graph[T]) Subgraph(names []string) *Graph[T] {
	sub := New[T]()
	for _, name := range names {
		if d, ok := g.data[name]; ok {
			sub.Add(name, d)
		}
	}
	for _, name := range sub.Names() {
		for _, dep := range g.dependsOn[name] {
			if sub.Has(dep) {
				_ = sub.Depend(name, dep)
			}
		}
	}
	return sub
}

func sorted(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
