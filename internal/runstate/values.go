package runstate

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/chatflow/pkg/schema"
)

// DeepCopy returns an independent copy of a JSON-like map.
func DeepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = DeepCopyValue(v)
	}
	return cp
}

// DeepCopyValue recursively copies maps and slices. Scalars are returned as is.
func DeepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopy(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopyValue(item)
		}
		return cp
	case []string:
		cp := make([]any, len(val))
		for i, s := range val {
			cp[i] = s
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

// DeepMerge returns a new map holding base overlaid with overlay. Nested maps
// merge recursively, every other overlay value (lists included) replaces the
// base value. Neither argument is modified.
func DeepMerge(base, overlay map[string]any) map[string]any {
	out := DeepCopy(base)
	if out == nil {
		out = make(map[string]any, len(overlay))
	}
	for k, v := range overlay {
		om, overlayIsMap := v.(map[string]any)
		bm, baseIsMap := out[k].(map[string]any)
		if overlayIsMap && baseIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = DeepCopyValue(v)
	}
	return out
}

// Lookup resolves a dotted/bracket path such as "customer.orders[0].id" or
// `meta["x-key"]`.
func Lookup(root map[string]any, path string) (any, bool) {
	steps, err := parsePath(path)
	if err != nil {
		return nil, false
	}
	var cur any = root
	for _, s := range steps {
		if s.isIndex {
			list, ok := cur.([]any)
			if !ok || s.index < 0 || s.index >= len(list) {
				return nil, false
			}
			cur = list[s.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[s.key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes value at a dotted path, creating intermediate maps and
// replacing non-map intermediates. Index segments are not assignable.
func SetPath(root map[string]any, path string, value any) error {
	steps, err := parsePath(path)
	if err != nil {
		return err
	}
	cur := root
	for i, s := range steps {
		if s.isIndex {
			return schema.NewErrorf(schema.ErrCodeExecution, "path %q: list elements cannot be assigned", path)
		}
		if i == len(steps)-1 {
			cur[s.key] = value
			break
		}
		next, ok := cur[s.key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s.key] = next
		}
		cur = next
	}
	return nil
}

type pathStep struct {
	key     string
	index   int
	isIndex bool
}

func parsePath(path string) ([]pathStep, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeExecution, "empty path")
	}
	bad := func(reason string) error {
		return schema.NewErrorf(schema.ErrCodeExecution, "path %q: %s", path, reason)
	}

	var steps []pathStep
	for i := 0; i < len(path); {
		switch path[i] {
		case '.':
			if len(steps) == 0 || i+1 >= len(path) || path[i+1] == '.' || path[i+1] == '[' {
				return nil, bad("empty segment")
			}
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, bad("unclosed bracket")
			}
			inner := strings.TrimSpace(path[i+1 : i+end])
			i += end + 1
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
				steps = append(steps, pathStep{key: inner[1 : len(inner)-1]})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, bad("index must be an integer or a quoted key")
			}
			steps = append(steps, pathStep{index: n, isIndex: true})
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			steps = append(steps, pathStep{key: path[i:j]})
			i = j
		}
	}
	return steps, nil
}
