package validation

import "github.com/rendis/chatflow/pkg/schema"

// Validator checks workflow definitions before any run starts and validates
// values against JSON Schema contracts.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateValue(value any, contract []byte) error
}

// AgentRegistry reports whether an agent key is supported by the agent
// runner.
type AgentRegistry interface {
	Has(key string) bool
}
