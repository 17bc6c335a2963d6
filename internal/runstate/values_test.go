package runstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepCopy_Independent(t *testing.T) {
	orig := map[string]any{
		"user": map[string]any{"name": "ana", "tags": []any{"a", "b"}},
	}
	cp := DeepCopy(orig)
	cp["user"].(map[string]any)["name"] = "bob"
	cp["user"].(map[string]any)["tags"].([]any)[0] = "z"

	assert.Equal(t, "ana", orig["user"].(map[string]any)["name"])
	assert.Equal(t, "a", orig["user"].(map[string]any)["tags"].([]any)[0])
	assert.Nil(t, DeepCopy(nil))
}

func TestDeepMerge(t *testing.T) {
	base := map[string]any{
		"keep":  "caller",
		"score": float64(1),
		"profile": map[string]any{
			"name":  "ana",
			"prefs": map[string]any{"lang": "es", "tz": "UTC"},
		},
		"items": []any{"a", "b", "c"},
	}
	overlay := map[string]any{
		"score": float64(9),
		"profile": map[string]any{
			"prefs": map[string]any{"lang": "en"},
			"email": "ana@example.com",
		},
		"items": []any{"x"},
		"new":   true,
	}

	got := DeepMerge(base, overlay)

	assert.Equal(t, "caller", got["keep"], "caller-only keys survive")
	assert.Equal(t, float64(9), got["score"], "nested value wins on conflict")
	assert.Equal(t, []any{"x"}, got["items"], "lists are replaced, not concatenated")
	assert.Equal(t, true, got["new"])

	profile := got["profile"].(map[string]any)
	assert.Equal(t, "ana", profile["name"])
	assert.Equal(t, "ana@example.com", profile["email"])
	assert.Equal(t, map[string]any{"lang": "en", "tz": "UTC"}, profile["prefs"])

	// inputs untouched
	assert.Equal(t, "es", base["profile"].(map[string]any)["prefs"].(map[string]any)["lang"])
	assert.Len(t, base["items"], 3)
}

func TestDeepMerge_MapReplacesScalar(t *testing.T) {
	got := DeepMerge(map[string]any{"a": "text"}, map[string]any{"a": map[string]any{"b": 1}})
	assert.Equal(t, map[string]any{"b": 1}, got["a"])

	got = DeepMerge(nil, map[string]any{"a": 1})
	assert.Equal(t, map[string]any{"a": 1}, got)
}

func TestLookup(t *testing.T) {
	state := map[string]any{
		"customer": map[string]any{
			"orders": []any{
				map[string]any{"id": "o-1"},
				map[string]any{"id": "o-2"},
			},
			"meta": map[string]any{"x-key": "v"},
		},
	}

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"customer.orders[1].id", "o-2", true},
		{`customer.meta["x-key"]`, "v", true},
		{"customer.orders[5].id", nil, false},
		{"customer.missing", nil, false},
		{"customer.orders.id", nil, false},
		{"customer..orders", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := Lookup(state, tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetPath(t *testing.T) {
	state := map[string]any{"profile": "flat"}

	require.NoError(t, SetPath(state, "profile.name", "ana"))
	require.NoError(t, SetPath(state, "counter", float64(3)))
	assert.Equal(t, map[string]any{"name": "ana"}, state["profile"])
	assert.Equal(t, float64(3), state["counter"])

	assert.Error(t, SetPath(state, "list[0]", 1))
	assert.Error(t, SetPath(state, "", 1))
}
