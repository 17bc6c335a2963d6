package steps

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rendis/chatflow/pkg/schema"
)

// DefinitionGraph implements Graph over a workflow definition.
type DefinitionGraph struct {
	Def *schema.WorkflowDefinition
}

// Namespace scopes a node slug under its parent chain, e.g. "branch/node".
func (g DefinitionGraph) Namespace(n *schema.Node) string {
	parts := []string{n.Slug}
	seen := map[string]bool{n.Slug: true}
	for parent := n.ParentSlug; parent != "" && !seen[parent]; {
		seen[parent] = true
		parts = append(parts, parent)
		p, ok := g.Def.Node(parent)
		if !ok {
			break
		}
		parent = p.ParentSlug
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Title returns the display name of n, or a humanized slug.
func (g DefinitionGraph) Title(n *schema.Node) string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return Humanize(n.Slug)
}

// HasEdge reports whether an edge source -> target exists.
func (g DefinitionGraph) HasEdge(source, target string) bool {
	for _, e := range g.Def.Outgoing(source) {
		if e.Target == target {
			return true
		}
	}
	return false
}

// Humanize turns "triage_agent-v2" into "Triage agent v2".
func Humanize(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	if len(words) == 0 {
		return slug
	}
	s := strings.ToLower(strings.Join(words, " "))
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// MarkdownImages formats image URLs as markdown image links.
type MarkdownImages struct{}

// Format renders one markdown image per line.
func (MarkdownImages) Format(urls []string) string {
	lines := make([]string, 0, len(urls))
	for i, u := range urls {
		if u == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("![image %d](%s)", i+1, u))
	}
	return strings.Join(lines, "\n")
}

// Append adds formatted image text after text, separated by a blank line.
func (MarkdownImages) Append(text, formatted string) string {
	switch {
	case formatted == "":
		return text
	case strings.TrimSpace(text) == "":
		return formatted
	default:
		return strings.TrimRight(text, "\n") + "\n\n" + formatted
	}
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ContractChecker validates a parsed value against a JSON Schema contract.
type ContractChecker interface {
	ValidateValue(value any, contract []byte) error
}

// JSONParser extracts a JSON document from model text (code fences and
// surrounding prose are tolerated) and optionally checks it against the
// contract.
type JSONParser struct {
	Contracts ContractChecker
}

// Parse returns the decoded document or a SERIALIZATION error.
func (p *JSONParser) Parse(text string, contract json.RawMessage) (any, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return nil, schema.NewError(schema.ErrCodeSerialization, "no JSON document found in agent output")
	}

	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "agent output is not valid JSON: %s", err.Error()).
			WithCause(err)
	}

	if p.Contracts != nil && len(contract) > 0 {
		if err := p.Contracts.ValidateValue(out, contract); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization,
				"agent output does not satisfy the output schema: %s", err.Error()).WithCause(err)
		}
	}
	return out, nil
}

// ExtractJSON returns the JSON object or array embedded in s, or "".
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		if arrStart := strings.Index(s, "["); arrStart < 0 || start < arrStart {
			return s[start : end+1]
		}
	}
	if start, end := strings.Index(s, "["), strings.LastIndex(s, "]"); start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
