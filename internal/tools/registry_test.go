package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rodmena-limited/trust5/internal/llm"
	"github.com/rodmena-limited/trust5/internal/tools/policy"
)

// schemaTool is a minimal Tool whose schema requires a string "path"
// argument, used to exercise Registry's JSON-Schema validation gate
// without pulling in a real file tool.
type schemaTool struct{}

func (schemaTool) Name() string        { return "schema_tool" }
func (schemaTool) Description() string { return "a tool with a required argument" }

func (schemaTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
}

func (schemaTool) Execute(ctx context.Context, params json.RawMessage) (*llm.ToolResult, error) {
	return &llm.ToolResult{Content: "ok"}, nil
}

func TestRegistryExecuteRejectsArgumentsFailingSchema(t *testing.T) {
	reg := NewRegistry(policy.FileAccess{})
	reg.Register(schemaTool{})

	res, err := reg.Execute(context.Background(), llm.ToolCall{ID: "1", Name: "schema_tool", Arguments: `{}`})
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a validation error result for missing required argument")
	}
}

func TestRegistryExecutePassesValidArguments(t *testing.T) {
	reg := NewRegistry(policy.FileAccess{})
	reg.Register(schemaTool{})

	res, err := reg.Execute(context.Background(), llm.ToolCall{ID: "1", Name: "schema_tool", Arguments: `{"path":"a.go"}`})
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected success, got error: %s", res.Content)
	}
	if res.Content != "ok" {
		t.Fatalf("got content %q", res.Content)
	}
}

func TestRegistryExecuteSkipsValidationForToolWithNoSchema(t *testing.T) {
	reg := NewRegistry(policy.FileAccess{})
	reg.Register(noSchemaTool{})

	res, err := reg.Execute(context.Background(), llm.ToolCall{ID: "1", Name: "no_schema", Arguments: ``})
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected success, got error: %s", res.Content)
	}
}

type noSchemaTool struct{}

func (noSchemaTool) Name() string                       { return "no_schema" }
func (noSchemaTool) Description() string                { return "a tool with no declared schema" }
func (noSchemaTool) Schema() json.RawMessage             { return nil }
func (noSchemaTool) Execute(ctx context.Context, params json.RawMessage) (*llm.ToolResult, error) {
	return &llm.ToolResult{Content: "fine"}, nil
}
