// Package graph builds the per-invocation service dependency graph.
//
// Graphs are request-scoped: built from a topology, optionally restricted to
// the services a command names, checked for cycles, then read concurrently by
// the lifecycle executor. They are never mutated after construction.
package graph

import (
	"errors"
	"sort"
	"strings"

	"github.com/artpar/stackctl/internal/core/compose"
)

// =============================================================================
// Types
// =============================================================================

// Direction selects which way dependency edges point.
type Direction int

const (
	// DependencyFirst points edges from a dependency to its dependents (create, start).
	DependencyFirst Direction = iota
	// DependentFirst points edges from a dependent to its dependencies (stop, pause, remove).
	DependentFirst
)

func (d Direction) String() string {
	if d == DependentFirst {
		return "dependent-first"
	}
	return "dependency-first"
}

// EdgeSource selects the relation set and direction used by Build.
type EdgeSource struct {
	Direction Direction
	Links     bool // include links in addition to depends_on
}

// Graph is a directed graph over service names. Edges are deduplicated per
// ordered pair.
type Graph struct {
	out map[string]map[string]struct{}
	in  map[string]map[string]struct{}
}

// New creates a graph with the given nodes and no edges.
func New(nodes ...string) *Graph {
	g := &Graph{
		out: make(map[string]map[string]struct{}),
		in:  make(map[string]map[string]struct{}),
	}
	for _, n := range nodes {
		g.AddNode(n)
	}
	return g
}

// Build creates a graph containing every service of the topology as a node,
// with one edge per declared dependency whose target is also a node.
func Build(topo *compose.Topology, src EdgeSource) *Graph {
	g := New(topo.ServiceNames()...)
	for _, svc := range topo.Services {
		for _, dep := range svc.Dependencies(src.Links) {
			if !g.Has(dep) {
				continue
			}
			if src.Direction == DependencyFirst {
				g.AddEdge(dep, svc.Name)
			} else {
				g.AddEdge(svc.Name, dep)
			}
		}
	}
	return g
}

// AddNode adds a node if it is not present.
func (g *Graph) AddNode(name string) {
	if _, ok := g.out[name]; ok {
		return
	}
	g.out[name] = make(map[string]struct{})
	g.in[name] = make(map[string]struct{})
}

// AddEdge adds from -> to, creating missing nodes. Duplicate edges collapse.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.out[from][to] = struct{}{}
	g.in[to][from] = struct{}{}
}

// =============================================================================
// Queries
// =============================================================================

// Has reports whether name is a node.
func (g *Graph) Has(name string) bool {
	_, ok := g.out[name]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.out)
}

// Nodes returns all node names sorted.
func (g *Graph) Nodes() []string {
	return sortedSet(g.out)
}

// Successors returns the targets of name's outgoing edges, sorted.
func (g *Graph) Successors(name string) []string {
	return sortedKeys(g.out[name])
}

// Predecessors returns the sources of name's incoming edges, sorted.
func (g *Graph) Predecessors(name string) []string {
	return sortedKeys(g.in[name])
}

// InDegree returns the number of distinct incoming edges of name.
func (g *Graph) InDegree(name string) int {
	return len(g.in[name])
}

// MaxInDegree returns the largest in-degree over all nodes, or 0 when empty.
func (g *Graph) MaxInDegree() int {
	highest := 0
	for _, preds := range g.in {
		if len(preds) > highest {
			highest = len(preds)
		}
	}
	return highest
}

// Edges returns every edge as a [from, to] pair, sorted.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for _, from := range g.Nodes() {
		for _, to := range g.Successors(from) {
			edges = append(edges, [2]string{from, to})
		}
	}
	return edges
}

// =============================================================================
// Restriction
// =============================================================================

// Restrict returns the subgraph of nodes from which at least one requested
// name is reachable (a node reaches itself). Requested names that are not
// nodes are ignored. An empty request returns a copy of the whole graph.
func (g *Graph) Restrict(requested []string) *Graph {
	if len(requested) == 0 {
		return g.Subgraph(g.Nodes())
	}

	keep := make(map[string]bool)
	var queue []string
	for _, name := range requested {
		if g.Has(name) && !keep[name] {
			keep[name] = true
			queue = append(queue, name)
		}
	}
	// Walk incoming edges backwards: every predecessor can reach the node.
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for pred := range g.in[node] {
			if !keep[pred] {
				keep[pred] = true
				queue = append(queue, pred)
			}
		}
	}

	names := make([]string, 0, len(keep))
	for name := range keep {
		names = append(names, name)
	}
	return g.Subgraph(names)
}

// Subgraph returns the induced subgraph over names that exist in g.
func (g *Graph) Subgraph(names []string) *Graph {
	sub := New()
	for _, name := range names {
		if g.Has(name) {
			sub.AddNode(name)
		}
	}
	for from := range sub.out {
		for to := range g.out[from] {
			if sub.Has(to) {
				sub.AddEdge(from, to)
			}
		}
	}
	return sub
}

// =============================================================================
// Cycle Detection
// =============================================================================

// ErrCycle is wrapped by CycleError.
var ErrCycle = errors.New("dependency cycle")

// CycleError lists every cycle found in a graph.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, FormatCycle(c))
	}
	return "Cycles found: " + strings.Join(parts, ", ")
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// FormatCycle renders a cycle as "A -> B -> A".
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(append(append([]string{}, cycle...), cycle[0]), " -> ")
}

// Validate returns a *CycleError when the graph has cycles.
func (g *Graph) Validate() error {
	if cycles := g.DetectCycles(); len(cycles) > 0 {
		return &CycleError{Cycles: cycles}
	}
	return nil
}

// DetectCycles runs Tarjan's strongly-connected-components algorithm and
// returns every component that forms a cycle: components with more than one
// node, and single nodes with a self-edge. Each cycle is ordered along its
// edges starting at its smallest name; cycles are sorted by that name.
func (g *Graph) DetectCycles() [][]string {
	t := &tarjan{
		g:       g,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, n := range g.Nodes() {
		if _, seen := t.index[n]; !seen {
			t.strongConnect(n)
		}
	}

	var cycles [][]string
	for _, comp := range t.components {
		if len(comp) == 1 {
			if _, self := g.out[comp[0]][comp[0]]; !self {
				continue
			}
		}
		cycles = append(cycles, g.walkComponent(comp))
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

type tarjan struct {
	g          *Graph
	next       int
	index      map[string]int
	lowlink    map[string]int
	stack      []string
	onStack    map[string]bool
	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.next
	t.lowlink[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.Successors(v) {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] && t.index[w] < t.lowlink[v] {
			t.lowlink[v] = t.index[w]
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}
	var comp []string
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		comp = append(comp, w)
		if w == v {
			break
		}
	}
	t.components = append(t.components, comp)
}

// walkComponent orders a component by following edges from its smallest
// member, taking the smallest unvisited successor at each step.
func (g *Graph) walkComponent(comp []string) []string {
	members := make(map[string]bool, len(comp))
	for _, n := range comp {
		members[n] = true
	}
	sorted := append([]string{}, comp...)
	sort.Strings(sorted)

	visited := make(map[string]bool, len(comp))
	order := []string{sorted[0]}
	visited[sorted[0]] = true
	current := sorted[0]
	for len(order) < len(comp) {
		nextNode := ""
		for _, succ := range g.Successors(current) {
			if members[succ] && !visited[succ] {
				nextNode = succ
				break
			}
		}
		if nextNode == "" {
			for _, n := range sorted {
				if !visited[n] {
					nextNode = n
					break
				}
			}
		}
		visited[nextNode] = true
		order = append(order, nextNode)
		current = nextNode
	}
	return order
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(m map[string]map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
