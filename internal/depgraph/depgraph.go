// Package depgraph computes the derived dependency graph between installed
// extensions. The graph is never persisted; it is rebuilt on demand from the
// installed manifests to validate enable, disable, and uninstall operations
// and to detect dependency cycles.
package depgraph

import (
	"fmt"

	"github.com/vk/plugboard/internal/manifest"
)

type node struct {
	id         string
	deps       map[string]*node
	dependents map[string]*node
}

// Graph is a directed graph of extension ids. An edge from A to B means B
// depends on A.
type Graph struct {
	nodes map[string]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// Build constructs a graph from a set of installed manifests. Dependencies
// pointing outside the set are ignored here; resolving them against versions
// and lifecycle states is the installer's job.
func Build(manifests map[string]*manifest.Manifest) (*Graph, error) {
	g := New()
	for id := range manifests {
		g.AddNode(id)
	}
	for id, m := range manifests {
		for _, dep := range m.Dependencies {
			if _, ok := manifests[dep.ID]; !ok {
				continue
			}
			if err := g.AddEdge(dep.ID, id); err != nil {
				return nil, err
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddNode adds a new node with the given extension id to the graph. If a
// node with the same id already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node,
// meaning `toID` depends on `fromID`. An error is returned if either node
// does not exist or if the edge would create a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("extension cannot depend on itself: %s", fromID)
	}

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("extension not found: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("extension not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode
	return nil
}

// Dependencies returns the ids the given extension directly depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("extension not found: %s", id)
	}
	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	return deps, nil
}

// Dependents returns the ids of extensions that directly depend on the given one.
func (g *Graph) Dependents(id string) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("extension not found: %s", id)
	}
	dependents := make([]string, 0, len(n.dependents))
	for depID := range n.dependents {
		dependents = append(dependents, depID)
	}
	return dependents, nil
}

// TransitiveDependents returns every extension that directly or indirectly
// depends on the given one. Used for cascade disable.
func (g *Graph) TransitiveDependents(id string) ([]string, error) {
	start, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("extension not found: %s", id)
	}

	seen := map[string]bool{id: true}
	var out []string
	var visit func(n *node)
	visit = func(n *node) {
		for _, dep := range n.dependents {
			if seen[dep.id] {
				continue
			}
			seen[dep.id] = true
			out = append(out, dep.id)
			visit(dep)
		}
	}
	visit(start)
	return out, nil
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, naming the first extension involved in it.
func (g *Graph) DetectCycles() error {
	// Classic depth-first search with three sets of nodes:
	// permanent: fully visited and known not to be part of a cycle.
	// temporary: currently in the recursion stack.
	// unvisited: all others.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("dependency cycle detected involving extension '%s'", n.id)
		}

		temporary[n.id] = true

		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}

		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range g.nodes {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}

	return nil
}
