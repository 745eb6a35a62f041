package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/speakmesh/core"
)

// Node is one step of the turn graph.
//
// Run computes the node's output from the turn context. It must not write to
// the thread store; it may be abandoned when its time budget runs out.
// Commit merges a successful output into the thread store and returns the
// output to publish (for example with the assigned message position). A
// Commit error is fatal for the turn.
type Node interface {
	ID() core.NodeID
	Run(ctx context.Context, tc *core.TurnContext) (any, error)
	Commit(ctx context.Context, tc *core.TurnContext, out any) (any, error)
}

// RouteFunc selects the successors of a node from its full result, failures
// included.
type RouteFunc func(r core.NodeResult, tc *core.TurnContext) []core.NodeID

// Graph is a fixed directed acyclic graph of nodes. Static edges added with
// Then fire only when the source succeeded; a RouteFunc sees every result.
type Graph struct {
	nodes  map[core.NodeID]Node
	entry  core.NodeID
	audio  core.NodeID
	then   map[core.NodeID][]core.NodeID
	routes map[core.NodeID]RouteFunc
}

// NewGraph creates an empty graph whose text turns start at entry.
func NewGraph(entry core.NodeID) *Graph {
	return &Graph{
		nodes:  make(map[core.NodeID]Node),
		entry:  entry,
		then:   make(map[core.NodeID][]core.NodeID),
		routes: make(map[core.NodeID]RouteFunc),
	}
}

// AddNode registers n, replacing any node with the same id.
func (g *Graph) AddNode(n Node) *Graph {
	g.nodes[n.ID()] = n
	return g
}

// AudioEntry sets the node audio turns start at.
func (g *Graph) AudioEntry(id core.NodeID) *Graph {
	g.audio = id
	return g
}

// Then adds static edges from -> to.
func (g *Graph) Then(from core.NodeID, to ...core.NodeID) *Graph {
	g.then[from] = append(g.then[from], to...)
	return g
}

// Route sets the conditional successors of from.
func (g *Graph) Route(from core.NodeID, fn RouteFunc) *Graph {
	g.routes[from] = fn
	return g
}

// Has reports whether a node with id is registered.
func (g *Graph) Has(id core.NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// AcceptsAudio reports whether an audio entry node is configured.
func (g *Graph) AcceptsAudio() bool { return g.audio != "" }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EntryFor returns the first node of a turn for req.
func (g *Graph) EntryFor(req core.TurnRequest) core.NodeID {
	if req.IsAudio() && g.audio != "" {
		return g.audio
	}
	return g.entry
}

// Validate checks that entries and static edges reference registered nodes
// and that static edges form no cycle.
func (g *Graph) Validate() error {
	if !g.Has(g.entry) {
		return fmt.Errorf("graph entry %q is not registered", g.entry)
	}
	if g.audio != "" && !g.Has(g.audio) {
		return fmt.Errorf("graph audio entry %q is not registered", g.audio)
	}
	for from, tos := range g.then {
		if !g.Has(from) {
			return fmt.Errorf("edge source %q is not registered", from)
		}
		for _, to := range tos {
			if !g.Has(to) {
				return fmt.Errorf("edge %s -> %s: target is not registered", from, to)
			}
		}
	}
	for from := range g.routes {
		if !g.Has(from) {
			return fmt.Errorf("route source %q is not registered", from)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[core.NodeID]int, len(g.nodes))
	var visit func(id core.NodeID) error
	visit = func(id core.NodeID) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("graph has a cycle through %q", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, next := range g.then[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for id := range g.nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// successors returns the nodes to schedule after r. A fatal result has none.
func (g *Graph) successors(r core.NodeResult, tc *core.TurnContext) []core.NodeID {
	if r.Fatal {
		return nil
	}
	var next []core.NodeID
	if !r.Failed() {
		next = append(next, g.then[r.Node]...)
	}
	if fn, ok := g.routes[r.Node]; ok {
		next = append(next, fn(r, tc)...)
	}
	return next
}
