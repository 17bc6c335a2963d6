package definitions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/chatflow/pkg/schema"
)

// yamlDefinition mirrors schema.WorkflowDefinition for YAML documents, where
// node parameters are a free-form mapping rather than raw JSON.
type yamlDefinition struct {
	Slug     string         `yaml:"slug"`
	Version  string         `yaml:"version"`
	Name     string         `yaml:"name"`
	Nodes    []yamlNode     `yaml:"nodes"`
	Edges    []schema.Edge  `yaml:"edges"`
	Metadata map[string]any `yaml:"metadata"`
}

type yamlNode struct {
	Slug        string          `yaml:"slug"`
	Kind        schema.NodeKind `yaml:"kind"`
	DisplayName string          `yaml:"display_name"`
	IsEnabled   *bool           `yaml:"is_enabled"`
	Parameters  map[string]any  `yaml:"parameters"`
	ParentSlug  string          `yaml:"parent_slug"`
}

// LoadFile reads one definition. The format follows the file extension
// (.yaml, .yml or .json).
func LoadFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
	def, err := LoadBytes(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// LoadBytes parses a definition in the given format ("yaml" or "json").
// Nodes without is_enabled are enabled.
func LoadBytes(data []byte, format string) (*schema.WorkflowDefinition, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		var doc yamlDefinition
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
		return doc.definition()
	case "json":
		var def schema.WorkflowDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		return &def, nil
	default:
		return nil, fmt.Errorf("unsupported format %q, use \"yaml\" or \"json\"", format)
	}
}

func (d yamlDefinition) definition() (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{
		Slug:     d.Slug,
		Version:  d.Version,
		Name:     d.Name,
		Edges:    d.Edges,
		Metadata: d.Metadata,
	}
	for _, n := range d.Nodes {
		node := schema.Node{
			Slug:        n.Slug,
			Kind:        n.Kind,
			DisplayName: n.DisplayName,
			IsEnabled:   n.IsEnabled == nil || *n.IsEnabled,
			ParentSlug:  n.ParentSlug,
		}
		if len(n.Parameters) > 0 {
			raw, err := json.Marshal(n.Parameters)
			if err != nil {
				return nil, fmt.Errorf("node %s parameters: %w", n.Slug, err)
			}
			node.Parameters = raw
		}
		def.Nodes = append(def.Nodes, node)
	}
	return def, nil
}

// LoadDir loads every definition file directly under dir into a catalog.
// When v is non-nil each definition must pass validation.
func LoadDir(dir string, v Validator) (*Memory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}

	m := NewMemory()
	for _, e := range entries {
		if e.IsDir() || detectFormat(e.Name()) == "" {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if def.Slug == "" {
			return nil, fmt.Errorf("%s: workflow slug is required", e.Name())
		}
		if v != nil {
			if err := v.ValidateDefinition(def); err != nil {
				return nil, fmt.Errorf("%s: %w", e.Name(), err)
			}
		}
		m.Put(def)
	}
	return m, nil
}

// detectFormat returns "yaml" or "json" based on file extension, or "" if unknown.
func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
