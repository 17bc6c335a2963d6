package definitions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/chatflow/pkg/schema"
)

func TestMemory_Versions(t *testing.T) {
	v1 := &schema.WorkflowDefinition{Slug: "flow", Version: "1", Name: "first"}
	v2 := &schema.WorkflowDefinition{Slug: "flow", Version: "2"}
	m := NewMemory(v1, v2)
	ctx := context.Background()

	got, err := m.Get(ctx, "flow", "")
	require.NoError(t, err)
	assert.Same(t, v2, got, "latest registered version")

	got, err = m.Get(ctx, "flow", "1")
	require.NoError(t, err)
	assert.Same(t, v1, got)

	replaced := &schema.WorkflowDefinition{Slug: "flow", Version: "1", Name: "replaced"}
	m.Put(replaced)
	got, _ = m.Get(ctx, "flow", "1")
	assert.Equal(t, "replaced", got.Name)

	_, err = m.Get(ctx, "flow", "9")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	_, err = m.Get(ctx, "other", "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}
