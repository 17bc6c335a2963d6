// Package diagram renders workflow graphs, optionally overlaid with the
// position of a thread's run, as Mermaid text or PNG images.
package diagram

import "github.com/rendis/chatflow/pkg/schema"

// Node states shown by the renderers.
const (
	StateRunning   = "running"
	StateSuspended = "suspended"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCalling   = "calling" // caller of the nested workflow being executed
	StateDisabled  = "disabled"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one workflow node.
type Node struct {
	ID    string
	Label string
	Kind  schema.NodeKind
	State string
}

// Edge is one transition. Label carries the guard, if any.
type Edge struct {
	From  string
	To    string
	Label string
}
