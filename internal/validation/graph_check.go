package validation

import (
	"fmt"

	"github.com/rendis/chatflow/pkg/schema"
)

// validateGraph runs reachability analysis from the start node. Problems
// found here are warnings: cycles are legal in conversational graphs and an
// unreachable node is harmless at run time.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	start, ok := def.Start()
	if !ok {
		return result
	}

	reachable := map[string]bool{start.Slug: true}
	queue := []string{start.Slug}
	for len(queue) > 0 {
		slug := queue[0]
		queue = queue[1:]
		for _, e := range def.Outgoing(slug) {
			if !reachable[e.Target] {
				reachable[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	endReachable := false
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if !reachable[n.Slug] {
			result.AddWarning(path, fmt.Sprintf("node %q is unreachable from the start node", n.Slug))
			continue
		}
		if n.Kind == schema.NodeKindEnd {
			endReachable = true
			continue
		}
		if len(def.Outgoing(n.Slug)) == 0 {
			result.AddWarning(path, fmt.Sprintf("node %q has no outgoing edges and is not an end node", n.Slug))
		}
	}

	if !endReachable {
		result.AddWarning("nodes", "no end node is reachable from the start node")
	}

	return result
}
