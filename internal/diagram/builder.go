package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/chatflow/pkg/schema"
)

const maxLabel = 40

// Build constructs a DiagramModel from a definition. When snap is non-nil
// and belongs to def (as the running workflow or a caller on its stack) the
// nodes carry the run's position.
func Build(def *schema.WorkflowDefinition, snap *schema.RuntimeSnapshot) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: nil definition")
	}

	m := &DiagramModel{Title: titleFromDef(def)}
	index := make(map[string]*Node, len(def.Nodes))
	for _, n := range def.Nodes {
		node := &Node{ID: n.Slug, Label: nodeLabel(n), Kind: n.Kind}
		if !n.IsEnabled {
			node.State = StateDisabled
		}
		m.Nodes = append(m.Nodes, node)
		index[n.Slug] = node
	}
	for _, e := range def.Edges {
		if index[e.Source] == nil || index[e.Target] == nil {
			return nil, fmt.Errorf("diagram: edge %s -> %s references an unknown node", e.Source, e.Target)
		}
		m.Edges = append(m.Edges, Edge{From: e.Source, To: e.Target, Label: truncate(e.Condition)})
	}

	if snap != nil {
		overlay(def, snap, index)
	}
	return m, nil
}

func overlay(def *schema.WorkflowDefinition, snap *schema.RuntimeSnapshot, index map[string]*Node) {
	mark := func(slug, state string) {
		if n := index[slug]; n != nil {
			n.State = state
		}
	}

	for _, f := range snap.CallStack {
		if f.WorkflowSlug == def.Slug {
			mark(f.CallerSlug, StateCalling)
		}
	}
	if snap.WorkflowSlug != def.Slug {
		return
	}

	switch {
	case snap.PendingSlug != "":
		mark(snap.PendingSlug, StateSuspended)
	case snap.Status == schema.RunStatusFailed:
		mark(snap.CurrentSlug, StateFailed)
	case snap.Status == schema.RunStatusCompleted:
		mark(snap.CurrentSlug, StateCompleted)
	case snap.Status == schema.RunStatusSuspended:
		mark(snap.CurrentSlug, StateSuspended)
	default:
		mark(snap.CurrentSlug, StateRunning)
	}
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	title := def.Name
	if title == "" {
		title = def.Slug
	}
	if def.Version != "" {
		title += " v" + def.Version
	}
	return title
}

func nodeLabel(n schema.Node) string {
	name := n.DisplayName
	if name == "" {
		name = n.Slug
	}
	if n.Kind == schema.NodeKindStart || n.Kind == schema.NodeKindEnd {
		return name
	}
	return name + "\n" + string(n.Kind)
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLabel {
		return s
	}
	return s[:maxLabel-3] + "..."
}

// firstLine returns the first line of s.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
