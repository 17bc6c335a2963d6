package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/pkg/schema"
)

// validateSemantic checks graph invariants that JSON Schema cannot express:
// unique slugs, known kinds, a single start node, terminal end nodes, edge
// references, registered agent keys, kind parameters and guard syntax.
func validateSemantic(def *schema.WorkflowDefinition, agents AgentRegistry, guards *expressions.CELEngine) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	slugs := make(map[string]int, len(def.Nodes))
	starts := 0
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if prev, dup := slugs[n.Slug]; dup {
			result.AddErrorf(path+".slug", "duplicate node slug %q (first declared at nodes[%d])", n.Slug, prev)
			continue
		}
		slugs[n.Slug] = i

		if !n.Kind.Known() {
			result.AddErrorf(path+".kind", "unknown node kind %q", n.Kind)
			continue
		}
		if n.Kind == schema.NodeKindStart {
			starts++
		}
	}

	if starts != 1 {
		result.AddErrorf("nodes", "exactly one start node required, found %d", starts)
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ParentSlug != "" {
			if _, ok := slugs[n.ParentSlug]; !ok {
				result.AddErrorf(path+".parent_slug", "references non-existent node %q", n.ParentSlug)
			}
		}
		if n.Kind.Known() {
			validateParameters(n, path, agents, result)
		}
	}

	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := slugs[e.Source]; !ok {
			result.AddErrorf(path+".source", "references non-existent node %q", e.Source)
		} else if n, _ := def.Node(e.Source); n.Kind == schema.NodeKindEnd {
			result.AddErrorf(path+".source", "end node %q cannot have outgoing edges", e.Source)
		}
		if _, ok := slugs[e.Target]; !ok {
			result.AddErrorf(path+".target", "references non-existent node %q", e.Target)
		}
		if guards != nil && strings.TrimSpace(e.Condition) != "" {
			if err := guards.Check(e.Condition); err != nil {
				result.AddErrorf(path+".condition", "invalid guard: %s", err.Error())
			}
		}
	}

	return result
}

// validateParameters decodes the kind-specific parameters of n and checks
// the fields each kind requires.
func validateParameters(n *schema.Node, path string, agents AgentRegistry, result *schema.ValidationResult) {
	paramPath := path + ".parameters"

	checkAgent := func(key string, required bool) {
		if key == "" {
			if required {
				result.AddError(paramPath+".agent_key", "agent_key is required")
			}
			return
		}
		if agents != nil && !agents.Has(key) {
			result.AddErrorf(paramPath+".agent_key", "agent %q is not in the supported agent registry", key)
		}
	}
	decode := func(v any) bool {
		if err := n.DecodeParams(v); err != nil {
			result.AddError(paramPath, err.Error())
			return false
		}
		return true
	}

	switch n.Kind {
	case schema.NodeKindAgent:
		var p schema.AgentParams
		if decode(&p) {
			checkAgent(p.AgentKey, true)
			if p.Ingest != nil && p.Ingest.StoreSlug == "" {
				result.AddError(paramPath+".vector_store.store_slug", "store_slug is required")
			}
			if p.Widget != nil && p.Widget.Slug == "" {
				result.AddError(paramPath+".widget.slug", "widget slug is required")
			}
		}
	case schema.NodeKindVoiceAgent:
		var p schema.VoiceAgentParams
		if decode(&p) {
			checkAgent(p.AgentKey, true)
		}
	case schema.NodeKindOutboundCall:
		var p schema.OutboundCallParams
		if decode(&p) {
			checkAgent(p.AgentKey, false)
			if p.ToNumber == "" && p.ToNumberPath == "" {
				result.AddError(paramPath, "one of to_number or to_number_path is required")
			}
		}
	case schema.NodeKindVectorStoreIngest:
		var p schema.IngestParams
		if decode(&p) && p.StoreSlug == "" {
			result.AddError(paramPath+".store_slug", "store_slug is required")
		}
	case schema.NodeKindWidget:
		var p schema.WidgetParams
		if decode(&p) && p.Slug == "" {
			result.AddError(paramPath+".slug", "widget slug is required")
		}
	case schema.NodeKindSetState:
		var p schema.SetStateParams
		if decode(&p) {
			if len(p.Assignments) == 0 {
				result.AddWarning(paramPath+".assignments", "set_state node has no assignments")
			}
			for j, a := range p.Assignments {
				if a.Target == "" || a.Expression == "" {
					result.AddErrorf(fmt.Sprintf("%s.assignments[%d]", paramPath, j), "target and expression are required")
				}
			}
		}
	case schema.NodeKindSubWorkflow:
		var p schema.SubWorkflowParams
		if decode(&p) && p.WorkflowSlug == "" {
			result.AddError(paramPath+".workflow_slug", "workflow_slug is required")
		}
	case schema.NodeKindStart, schema.NodeKindEnd:
	}
}
