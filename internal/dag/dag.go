// Package dag is a small directed acyclic graph over string IDs with a
// deterministic topological sort and shortest-cycle reporting.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

// Graph is not safe for concurrent mutation; build it once, then read it.
type Graph struct {
	nodes map[string]*node
	order []string // insertion order
}

type node struct {
	id         string
	rank       int
	deps       []string
	dependents []string
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a node. Insertion order breaks ties in TopoSort, so callers
// add nodes in their preferred order. Adding an existing ID is a no-op.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{id: id, rank: len(g.order)}
	g.order = append(g.order, id)
}

// AddEdge records that to depends on from. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", from, to)
	}
	f, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("source node not found: %s", from)
	}
	t, ok := g.nodes[to]
	if !ok {
		return fmt.Errorf("destination node not found: %s", to)
	}
	if slices.Contains(t.deps, from) {
		return nil
	}
	t.deps = append(t.deps, from)
	f.dependents = append(f.dependents, to)
	return nil
}

func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) Len() int { return len(g.order) }

// Nodes returns IDs in insertion order.
func (g *Graph) Nodes() []string { return slices.Clone(g.order) }

// Dependencies returns the direct dependencies of id in insertion order.
func (g *Graph) Dependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return g.sortByRank(slices.Clone(n.deps))
}

// Dependents returns the nodes that directly depend on id, in insertion order.
func (g *Graph) Dependents(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return g.sortByRank(slices.Clone(n.dependents))
}

// Ancestors returns every node id transitively depends on, in insertion order.
func (g *Graph) Ancestors(id string) []string {
	return g.walk(id, func(n *node) []string { return n.deps })
}

// Descendants returns every node that transitively depends on id, in insertion order.
func (g *Graph) Descendants(id string) []string {
	return g.walk(id, func(n *node) []string { return n.dependents })
}

func (g *Graph) walk(id string, next func(*node) []string) []string {
	start, ok := g.nodes[id]
	if !ok {
		return nil
	}
	seen := map[string]bool{id: true}
	var out []string
	queue := slices.Clone(next(start))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, next(g.nodes[cur])...)
	}
	return g.sortByRank(out)
}

func (g *Graph) sortByRank(ids []string) []string {
	slices.SortFunc(ids, func(a, b string) int { return g.nodes[a].rank - g.nodes[b].rank })
	return ids
}

// CycleError reports the shortest dependency cycle found in a graph.
// Cycle lists nodes in edge direction; the first node is repeated implicitly.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return "dependency cycle"
	}
	return "dependency cycle: " + strings.Join(append(slices.Clone(e.Cycle), e.Cycle[0]), " -> ")
}

// TopoSort orders nodes with Kahn's algorithm. Among ready nodes the one
// added first wins, so the order is deterministic. On a cycle it returns a
// *CycleError holding a minimal cycle.
func (g *Graph) TopoSort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.order {
		indegree[id] = len(g.nodes[id].deps)
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		g.sortByRank(ready)
		cur := ready[0]
		ready = ready[1:]
		sorted = append(sorted, cur)
		for _, d := range g.nodes[cur].dependents {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(sorted) == len(g.order) {
		return sorted, nil
	}

	remaining := make(map[string]bool)
	for _, id := range g.order {
		if indegree[id] > 0 {
			remaining[id] = true
		}
	}
	return nil, &CycleError{Cycle: g.minimalCycle(remaining)}
}

// minimalCycle runs a BFS from every node left over by Kahn's algorithm and
// keeps the shortest path that returns to its start.
func (g *Graph) minimalCycle(remaining map[string]bool) []string {
	var best []string
	for _, start := range g.order {
		if !remaining[start] {
			continue
		}
		if c := g.shortestCycleFrom(start, remaining); c != nil && (best == nil || len(c) < len(best)) {
			best = c
		}
	}
	return best
}

func (g *Graph) shortestCycleFrom(start string, within map[string]bool) []string {
	parent := map[string]string{}
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Dependents(cur) {
			if !within[next] {
				continue
			}
			if next == start {
				path := []string{cur}
				for p := cur; p != start; {
					p = parent[p]
					path = append(path, p)
				}
				slices.Reverse(path)
				return path
			}
			if !visited[next] {
				visited[next] = true
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}
