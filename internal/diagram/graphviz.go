package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/chatflow/pkg/schema"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(node.Label)
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s -> %s: %w", edge.From, edge.To, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and state.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case schema.NodeKindStart, schema.NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	case schema.NodeKindWidget:
		gvNode.SetShape(cgraph.EllipseShape)
	case schema.NodeKindSubWorkflow:
		gvNode.SetShape(cgraph.Box3DShape)
	case schema.NodeKindSetState:
		gvNode.SetShape(cgraph.ParallelogramShape)
	case schema.NodeKindVectorStoreIngest:
		gvNode.SetShape(cgraph.CylinderShape)
	case schema.NodeKindVoiceAgent, schema.NodeKindOutboundCall:
		gvNode.SetShape(cgraph.HexagonShape)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	if node.State != "" {
		applyStateColor(gvNode, node.State)
	}
}

func applyStateColor(gvNode *cgraph.Node, state string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch state {
	case StateCompleted:
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case StateFailed:
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case StateRunning:
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case StateSuspended:
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case StateCalling:
		gvNode.SetFillColor("#4a235a")
		gvNode.SetFontColor("white")
	case StateDisabled:
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
