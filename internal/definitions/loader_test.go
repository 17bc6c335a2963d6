package definitions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/chatflow/pkg/schema"
)

const supportYAML = `
slug: support
version: "2"
name: Support desk
nodes:
  - slug: start
    kind: start
  - slug: triage
    kind: agent
    display_name: Triage
    parameters:
      agent_key: triage
      settings:
        temperature: 0.2
  - slug: survey
    kind: widget
    is_enabled: false
    parameters:
      slug: csat
      bindings:
        name: .state.customer.name
  - slug: end
    kind: end
edges:
  - source: start
    target: triage
  - source: triage
    target: survey
    condition: state.tier == "gold"
  - source: triage
    target: end
  - source: survey
    target: end
`

const greetJSON = `{
  "slug": "greet",
  "nodes": [
    {"slug": "start", "kind": "start"},
    {"slug": "end", "kind": "end", "is_enabled": false}
  ],
  "edges": [{"source": "start", "target": "end"}]
}`

func TestLoadBytes_YAML(t *testing.T) {
	def, err := LoadBytes([]byte(supportYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "support", def.Slug)
	assert.Equal(t, "2", def.Version)
	require.Len(t, def.Nodes, 4)
	require.Len(t, def.Edges, 4)
	assert.Equal(t, `state.tier == "gold"`, def.Edges[1].Condition)

	triage, ok := def.Node("triage")
	require.True(t, ok)
	assert.True(t, triage.IsEnabled, "nodes are enabled unless stated")
	var p schema.AgentParams
	require.NoError(t, triage.DecodeParams(&p))
	assert.Equal(t, "triage", p.AgentKey)
	assert.Equal(t, 0.2, p.Settings["temperature"])

	survey, _ := def.Node("survey")
	assert.False(t, survey.IsEnabled)
	var w schema.WidgetParams
	require.NoError(t, survey.DecodeParams(&w))
	assert.Equal(t, ".state.customer.name", w.Bindings["name"])
}

func TestLoadBytes_JSON(t *testing.T) {
	def, err := LoadBytes([]byte(greetJSON), "json")
	require.NoError(t, err)
	start, _ := def.Node("start")
	end, _ := def.Node("end")
	assert.True(t, start.IsEnabled)
	assert.False(t, end.IsEnabled)
}

func TestLoadBytes_Errors(t *testing.T) {
	_, err := LoadBytes([]byte("slug: [unclosed"), "yaml")
	assert.Error(t, err)
	_, err = LoadBytes([]byte("{"), "json")
	assert.Error(t, err)
	_, err = LoadBytes([]byte("x"), "toml")
	assert.Error(t, err)
}

type rejectSlug string

func (r rejectSlug) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def.Slug == string(r) {
		return errors.New("rejected")
	}
	return nil
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "support.yaml"), []byte(supportYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.json"), []byte(greetJSON), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# notes"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))

	catalog, err := LoadDir(dir, rejectSlug("none"))
	require.NoError(t, err)
	assert.Equal(t, []string{"greet", "support"}, catalog.Slugs())

	def, err := catalog.Get(context.Background(), "support", "")
	require.NoError(t, err)
	assert.Equal(t, "Support desk", def.Name)

	_, err = LoadDir(dir, rejectSlug("greet"))
	assert.ErrorContains(t, err, "greet.json")

	_, err = LoadDir(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.txt")
	require.NoError(t, os.WriteFile(path, []byte(greetJSON), 0o600))
	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "unsupported file extension")
}
