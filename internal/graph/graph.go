// Package graph defines the staged verification graph and the router that
// walks it checkpoint by checkpoint.
package graph

import (
	"fmt"
	"strings"

	"github.com/velocityhq/velocity/internal/stages"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Node binds a stage handler into the graph. A node routes through either a
// CEL edge predicate (Edge/Then/Else), an unconditional Next, or nothing at
// all when Terminal.
type Node struct {
	Stage   schema.Stage
	Handler stages.Handler

	// Edge is a CEL predicate over {flags, run, application, items}.
	// When it holds, the router advances to Then, otherwise to Else.
	Edge string
	Then schema.Stage
	Else schema.Stage

	// Next is the unconditional successor for nodes without an edge.
	Next schema.Stage

	// Interrupt pauses the run after this node's checkpoint is written,
	// before the successor executes.
	Interrupt bool

	Terminal bool
}

// Graph is the immutable stage graph. Built once at startup and shared.
type Graph struct {
	nodes map[schema.Stage]*Node
	entry schema.Stage
}

// New assembles the onboarding graph over the given handlers:
//
//	INPUT      -(auth_valid)->        DOCS       else FIXER
//	DOCS       -(doc_verified)->      BANK       else FIXER
//	BANK       -(bank_verified)->     COMPLIANCE else FIXER
//	COMPLIANCE -(website_compliant)-> FINAL      else FIXER
//	FIXER      -> INPUT, interrupting before re-entry
//	FINAL      terminal
func New(handlers map[schema.Stage]stages.Handler) (*Graph, error) {
	nodes := []*Node{
		{
			Stage: schema.StageInput,
			Edge:  `flags.auth_valid == true`,
			Then:  schema.StageDocs,
			Else:  schema.StageFixer,
		},
		{
			Stage: schema.StageDocs,
			Edge:  `flags.doc_verified == true`,
			Then:  schema.StageBank,
			Else:  schema.StageFixer,
		},
		{
			Stage: schema.StageBank,
			Edge:  `flags.bank_verified == true`,
			Then:  schema.StageCompliance,
			Else:  schema.StageFixer,
		},
		{
			Stage: schema.StageCompliance,
			Edge:  `flags.website_compliant == true`,
			Then:  schema.StageFinal,
			Else:  schema.StageFixer,
		},
		{
			Stage:     schema.StageFixer,
			Next:      schema.StageInput,
			Interrupt: true,
		},
		{
			Stage:    schema.StageFinal,
			Terminal: true,
		},
	}

	g := &Graph{
		nodes: make(map[schema.Stage]*Node, len(nodes)),
		entry: schema.StageInput,
	}
	for _, n := range nodes {
		h, ok := handlers[n.Stage]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "no handler for stage %s", n.Stage)
		}
		n.Handler = h
		g.nodes[n.Stage] = n
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Entry returns the graph's entry stage.
func (g *Graph) Entry() schema.Stage { return g.entry }

// Node looks up the node for a stage.
func (g *Graph) Node(stage schema.Stage) (*Node, error) {
	n, ok := g.nodes[stage]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown stage %s", stage)
	}
	return n, nil
}

// validate checks graph sanity: every edge target exists, every node is
// reachable from the entry, and at least one terminal exists. Cycles are
// legal here (the fixer loop), so this is reachability, not DAG analysis.
func (g *Graph) validate() error {
	terminals := 0
	for _, n := range g.nodes {
		if n.Terminal {
			terminals++
			continue
		}
		for _, target := range g.successors(n) {
			if _, ok := g.nodes[target]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"stage %s routes to undefined stage %s", n.Stage, target)
			}
		}
		if len(g.successors(n)) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"stage %s is neither terminal nor routed", n.Stage)
		}
	}
	if terminals == 0 {
		return schema.NewError(schema.ErrCodeValidation, "graph has no terminal stage")
	}

	// BFS from the entry.
	reachable := map[schema.Stage]bool{g.entry: true}
	queue := []schema.Stage{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.successors(g.nodes[cur]) {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	for stage := range g.nodes {
		if !reachable[stage] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"stage %s is unreachable from %s", stage, g.entry)
		}
	}
	return nil
}

func (g *Graph) successors(n *Node) []schema.Stage {
	if n.Terminal {
		return nil
	}
	if n.Edge != "" {
		return []schema.Stage{n.Then, n.Else}
	}
	if n.Next != "" {
		return []schema.Stage{n.Next}
	}
	return nil
}

// Describe renders the routing table for diagnostics.
func (g *Graph) Describe() []string {
	out := make([]string, 0, len(g.nodes))
	for _, stage := range []schema.Stage{
		schema.StageInput, schema.StageDocs, schema.StageBank,
		schema.StageCompliance, schema.StageFixer, schema.StageFinal,
	} {
		n := g.nodes[stage]
		switch {
		case n.Terminal:
			out = append(out, fmt.Sprintf("%s: terminal", n.Stage))
		case n.Edge != "":
			out = append(out, fmt.Sprintf("%s: %s ? %s : %s", n.Stage, n.Edge, n.Then, n.Else))
		default:
			suffix := ""
			if n.Interrupt {
				suffix = " (interrupt)"
			}
			out = append(out, fmt.Sprintf("%s -> %s%s", n.Stage, n.Next, suffix))
		}
	}
	return out
}

// Mermaid renders the graph as a Mermaid flowchart.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for _, stage := range []schema.Stage{
		schema.StageInput, schema.StageDocs, schema.StageBank,
		schema.StageCompliance, schema.StageFixer, schema.StageFinal,
	} {
		n := g.nodes[stage]
		switch {
		case n.Terminal:
			fmt.Fprintf(&b, "    %s([%s])\n", n.Stage, n.Stage)
		case n.Edge != "":
			fmt.Fprintf(&b, "    %s -->|pass| %s\n", n.Stage, n.Then)
			fmt.Fprintf(&b, "    %s -->|fail| %s\n", n.Stage, n.Else)
		default:
			label := "retry"
			if n.Interrupt {
				label = "after review"
			}
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", n.Stage, label, n.Next)
		}
	}
	return b.String()
}
