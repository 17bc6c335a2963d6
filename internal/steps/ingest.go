package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rendis/chatflow/pkg/schema"
)

// processVectorStoreIngest ingests a document selected from the run scope.
// It produces no conversational output.
func processVectorStoreIngest(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	var p schema.IngestParams
	if err := in.Node.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.StoreSlug == "" {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "vector_store_ingest node has no store_slug").
			WithNode(in.Node.Slug)
	}

	scope := in.Run.Scope()
	last := in.Run.LastStep.AsMap()
	scope["output"] = map[string]any{
		"text":       last["output_text"],
		"structured": last["output_structured"],
	}

	res := &Result{}
	ingest(ctx, in, c, p, scope, res)
	return res, nil
}

// ingest is fire-and-forget: selection or store failures become diagnostics
// and ingest_failed stream events.
func ingest(ctx context.Context, in Input, c Collaborators, p schema.IngestParams, scope map[string]any, res *Result) {
	fail := func(err error) {
		msg := fmt.Sprintf("ingest into %q: %s", p.StoreSlug, err.Error())
		res.diagnose(schema.ErrCodeExecution, msg)
		c.emit(ctx, in.Invocation, schema.StreamIngestFailed, map[string]any{
			"store_slug": p.StoreSlug,
			"error":      err.Error(),
		})
	}

	if c.VectorStore == nil {
		fail(errors.New("no vector store configured"))
		return
	}

	doc, err := selectDocument(ctx, c, p, scope)
	if err != nil {
		fail(err)
		return
	}
	if doc.Document == nil || doc.Document == "" {
		fail(errors.New("selected document is empty"))
		return
	}

	if err := c.VectorStore.Ingest(ctx, in.Invocation, doc); err != nil {
		fail(err)
	}
}

func selectDocument(ctx context.Context, c Collaborators, p schema.IngestParams, scope map[string]any) (IngestDocument, error) {
	doc := IngestDocument{StoreSlug: p.StoreSlug}

	output, _ := scope["output"].(map[string]any)
	if p.DocumentPath != "" {
		v, err := c.Values.Bindings.Evaluate(ctx, p.DocumentPath, scope)
		if err != nil {
			return doc, err
		}
		doc.Document = v
	} else if output["structured"] != nil {
		doc.Document = output["structured"]
	} else {
		doc.Document = output["text"]
	}

	if p.DocIDPath != "" {
		v, err := c.Values.Bindings.Evaluate(ctx, p.DocIDPath, scope)
		if err != nil {
			return doc, err
		}
		if v != nil {
			doc.DocID = fmt.Sprint(v)
		}
	}
	if doc.DocID == "" {
		doc.DocID = uuid.NewString()
	}

	if p.MetadataPath != "" {
		v, err := c.Values.Bindings.Evaluate(ctx, p.MetadataPath, scope)
		if err != nil {
			return doc, err
		}
		meta, ok := v.(map[string]any)
		if v != nil && !ok {
			return doc, fmt.Errorf("metadata must be an object, got %T", v)
		}
		doc.Metadata = meta
	}
	return doc, nil
}
