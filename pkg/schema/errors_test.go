package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowError_Error(t *testing.T) {
	err := NewError(ErrCodeNoMatchingTransition, "no outgoing edge matched")
	assert.Equal(t, "[NO_MATCHING_TRANSITION] no outgoing edge matched", err.Error())

	err.WithNode("triage")
	assert.Equal(t, "[NO_MATCHING_TRANSITION] node triage: no outgoing edge matched", err.Error())
}

func TestFlowError_ChainHelpers(t *testing.T) {
	cause := errors.New("connection reset")
	fe := NewErrorf(ErrCodeAgentInvocation, "agent %s failed", "support").WithCause(cause)
	wrapped := fmt.Errorf("run: %w", fe)

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrCodeAgentInvocation, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeAgentInvocation))
	assert.False(t, IsCode(wrapped, ErrCodeExecution))
	assert.Equal(t, "", CodeOf(cause))
}

func TestAsFlowError(t *testing.T) {
	assert.Nil(t, AsFlowError(nil, ErrCodeExecution))

	fe := NewError(ErrCodeRecursionLimit, "too deep")
	assert.Same(t, fe, AsFlowError(fmt.Errorf("wrap: %w", fe), ErrCodeExecution))

	plain := errors.New("boom")
	got := AsFlowError(plain, ErrCodeExecution)
	assert.Equal(t, ErrCodeExecution, got.Code)
	assert.Equal(t, "boom", got.Message)
	assert.ErrorIs(t, got, plain)
}
