package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/chatflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const workflowSchemaURL = "https://chatflow.dev/schemas/workflow.json"

// workflowSchemaJSON is the structural schema of a WorkflowDefinition.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://chatflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["slug", "nodes"],
  "properties": {
    "slug": { "type": "string", "minLength": 1 },
    "version": { "type": "string" },
    "name": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/edge" }
    },
    "metadata": {}
  },
  "additionalProperties": false,
  "$defs": {
    "slug": {
      "type": "string",
      "pattern": "^[A-Za-z0-9][A-Za-z0-9_\\-]*$"
    },
    "node": {
      "type": "object",
      "required": ["slug", "kind"],
      "properties": {
        "slug": { "$ref": "#/$defs/slug" },
        "kind": { "type": "string", "minLength": 1 },
        "display_name": { "type": "string" },
        "is_enabled": { "type": "boolean" },
        "parameters": { "type": ["object", "null"] },
        "parent_slug": { "type": "string" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "condition": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates definitions against the workflow schema and
// arbitrary values against caller supplied contracts. It is safe for
// concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the workflow schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition checks the structure of def.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeGraphValidation, "workflow definition is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeGraphValidation, "failed to serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toFlowError(schema.ErrCodeGraphValidation, err)
	}
	return nil
}

// ValidateValue checks value against a JSON Schema contract. An empty
// contract accepts everything.
func (v *JSONSchemaValidator) ValidateValue(value any, contract []byte) error {
	if len(contract) == 0 {
		return nil
	}
	compiled, err := v.getOrCompile(contract)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid contract schema").WithCause(err)
	}
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeSerialization, "value is not JSON serializable").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toFlowError(schema.ErrCodeValidation, err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(contract []byte) (*jsonschema.Schema, error) {
	key := string(contract)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Fresh compiler per contract so resource URLs never collide.
	url := fmt.Sprintf("chatflow://contract/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips v through JSON so numbers become json.Number, as
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toFlowError(code string, err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(code, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(code, verr.Error()).WithCause(err)
	case 1:
		return schema.NewError(code, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(code, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations flattens a ValidationError tree into leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
