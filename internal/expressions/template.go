package expressions

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/pkg/schema"
)

// RenderTemplate replaces ${{ path }} references in text with values from
// scope, e.g. "Hello ${{state.customer.name}}". The first path segment must
// be one of the scope variables. References that resolve to nothing render as
// an empty string; strings render verbatim and other values as JSON.
func RenderTemplate(text string, scope map[string]any) (string, error) {
	if !strings.Contains(text, "${{") {
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "${{")
		if idx == -1 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+idx])
		start := i + idx + 3

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeExecution, "unclosed ${{ reference")
		}
		end += start

		path := strings.TrimSpace(text[start:end])
		if path == "" {
			return "", schema.NewError(schema.ErrCodeExecution, "empty reference: ${{ }}")
		}
		if strings.Contains(path, "${{") {
			return "", schema.NewError(schema.ErrCodeExecution, "nested ${{ references are not allowed")
		}

		if val, ok := runstate.Lookup(scope, path); ok {
			out.WriteString(inline(val))
		}
		i = end + 2
	}

	return out.String(), nil
}

func inline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, float64, int, int64:
		return fmt.Sprint(v)
	default:
		data, err := sonic.ConfigStd.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
