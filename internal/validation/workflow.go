package validation

import (
	"errors"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/pkg/schema"
)

// WorkflowValidator runs the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (slugs, kinds, edges, agent keys, parameters, guards)
// 3. Graph (reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	agents     AgentRegistry
	guards     *expressions.CELEngine
}

// NewWorkflowValidator creates a WorkflowValidator. agents may be nil to
// skip the agent registry check.
func NewWorkflowValidator(agents AgentRegistry) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	guards, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, agents: agents, guards: guards}, nil
}

// Validate runs the pipeline and returns an aggregated result. Structural
// errors short-circuit the later stages.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.agents, wv.guards))

	if result.Valid() {
		result.Merge(validateGraph(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateValue delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateValue(value any, contract []byte) error {
	return wv.jsonSchema.ValidateValue(value, contract)
}

func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		result.AddError("/", err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", msg)
		}
		return result
	}
	result.AddError("/", fe.Message)
	return result
}

var _ Validator = (*WorkflowValidator)(nil)
