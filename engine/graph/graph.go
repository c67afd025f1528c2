// Package graph derives the per-execution adjacency structure from a
// validated workflow: predecessor and successor edges grouped by output key,
// attached-node ownership, and reachability from the entry trigger.
package graph

import (
	"fmt"

	"github.com/flowforge/engine/engine/core"
	"github.com/flowforge/engine/engine/spec"
	"github.com/flowforge/engine/engine/workflow"
)

// Edge is one directed connection as seen from the execution graph.
type Edge struct {
	Conn      *workflow.Connection
	From      string
	To        string
	OutputKey string
}

// Graph is the derived adjacency structure over a workflow. It is built once
// per execution and read-only afterwards.
type Graph struct {
	wf    *workflow.Workflow
	nodes map[string]*workflow.Node
	specs map[string]*spec.Spec

	// attachedOwner maps an attached TOOL/MEMORY node id to the AI_AGENT
	// that owns it. Attached nodes never appear in preds/succs.
	attachedOwner map[string]string

	preds map[string][]*Edge
	succs map[string]map[string][]*Edge
}

// Build resolves every node against the registry and assembles adjacency.
// It assumes the workflow already passed validation; unresolvable nodes
// still return an error so a stale registry cannot panic the scheduler.
func Build(wf *workflow.Workflow, registry *spec.Registry) (*Graph, error) {
	g := &Graph{
		wf:            wf,
		nodes:         wf.NodeByID(),
		specs:         make(map[string]*spec.Spec, len(wf.Nodes)),
		attachedOwner: make(map[string]string),
		preds:         make(map[string][]*Edge),
		succs:         make(map[string]map[string][]*Edge),
	}
	for _, n := range wf.Nodes {
		s, err := registry.Lookup(n.Type, n.Subtype)
		if err != nil {
			return nil, fmt.Errorf("resolve node %q: %w", n.ID, err)
		}
		g.specs[n.ID] = s
		for _, attached := range n.AttachedNodes {
			g.attachedOwner[attached] = n.ID
		}
	}
	for _, c := range wf.Connections {
		key := c.EffectiveOutputKey()
		e := &Edge{Conn: c, From: c.FromNode, To: c.ToNode, OutputKey: key}
		g.preds[c.ToNode] = append(g.preds[c.ToNode], e)
		byKey, ok := g.succs[c.FromNode]
		if !ok {
			byKey = make(map[string][]*Edge)
			g.succs[c.FromNode] = byKey
		}
		byKey[key] = append(byKey[key], e)
	}
	return g, nil
}

// Workflow returns the underlying workflow definition.
func (g *Graph) Workflow() *workflow.Workflow { return g.wf }

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *workflow.Node { return g.nodes[id] }

// Spec returns the resolved specification for the node id, or nil.
func (g *Graph) Spec(id string) *spec.Spec { return g.specs[id] }

// IsAttached reports whether id is owned by an AI_AGENT and therefore never
// scheduled on the main frontier.
func (g *Graph) IsAttached(id string) bool {
	_, ok := g.attachedOwner[id]
	return ok
}

// AttachedOwner returns the AI_AGENT node id owning the attached node, or "".
func (g *Graph) AttachedOwner(id string) string { return g.attachedOwner[id] }

// Predecessors returns every edge delivering into id.
func (g *Graph) Predecessors(id string) []*Edge { return g.preds[id] }

// Successors returns the outgoing edges of id grouped by output key.
func (g *Graph) Successors(id string) map[string][]*Edge { return g.succs[id] }

// SuccessorEdges returns the outgoing edges of id carrying the given output
// key.
func (g *Graph) SuccessorEdges(id, outputKey string) []*Edge {
	return g.succs[id][outputKey]
}

// EntryTrigger returns the workflow's entry TRIGGER node. When more than one
// trigger exists the first declared one wins; the validator guarantees only
// one is reachable per execution.
func (g *Graph) EntryTrigger() *workflow.Node {
	for _, n := range g.wf.Nodes {
		if n.Type == core.NodeTrigger && !g.IsAttached(n.ID) {
			return n
		}
	}
	return nil
}

// Reachable walks successor edges from the given node id and returns the set
// of reachable node ids, including the start.
func (g *Graph) Reachable(from string) map[string]bool {
	seen := map[string]bool{}
	if g.Node(from) == nil {
		return seen
	}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, edges := range g.succs[id] {
			for _, e := range edges {
				if e.To == id {
					continue // self-loop (FLOW.LOOP)
				}
				if !seen[e.To] {
					stack = append(stack, e.To)
				}
			}
		}
	}
	return seen
}

// Descendants returns every node reachable strictly downstream of id.
func (g *Graph) Descendants(id string) map[string]bool {
	out := map[string]bool{}
	for _, edges := range g.succs[id] {
		for _, e := range edges {
			if e.To == id {
				continue
			}
			for d := range g.Reachable(e.To) {
				out[d] = true
			}
		}
	}
	return out
}

// MergeMode returns the configured mode of a FLOW.MERGE node, defaulting to
// "all".
func (g *Graph) MergeMode(id string) string {
	n := g.Node(id)
	if n == nil {
		return "all"
	}
	if mode, ok := n.Configurations["mode"].(string); ok && mode != "" {
		return mode
	}
	return "all"
}

// IsFlowSubtype reports whether id is a FLOW node of the given subtype.
func (g *Graph) IsFlowSubtype(id, subtype string) bool {
	n := g.Node(id)
	return n != nil && n.Type == core.NodeFlow && n.Subtype == subtype
}

// LoopMaxIterations returns the fan-out bound of a FLOW.LOOP node.
func (g *Graph) LoopMaxIterations(id string) int {
	n := g.Node(id)
	if n == nil {
		return 0
	}
	if v, ok := core.ParseAnyInt(n.Configurations["max_iterations"]); ok && v > 0 {
		return v
	}
	if s := g.Spec(id); s != nil {
		if field, ok := s.Configurations["max_iterations"]; ok {
			if v, ok := core.ParseAnyInt(field.Default); ok {
				return v
			}
		}
	}
	return 10000
}
