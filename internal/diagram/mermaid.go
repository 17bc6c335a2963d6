package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/chatflow/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%q|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef calling fill:#4a235a,stroke:#2e1538,color:#fff\n")
	b.WriteString("    classDef disabled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if node.State != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), node.State)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := strings.ReplaceAll(node.Label, "\n", "<br/>")

	switch node.Kind {
	case schema.NodeKindStart, schema.NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case schema.NodeKindWidget:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.NodeKindSubWorkflow:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case schema.NodeKindSetState:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case schema.NodeKindVectorStoreIngest:
		return fmt.Sprintf("%s[(%q)]", id, label)
	case schema.NodeKindVoiceAgent, schema.NodeKindOutboundCall:
		return fmt.Sprintf("%s{{%q}}", id, label)
	default: // agent
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in identifiers.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
