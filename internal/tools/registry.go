// Package tools defines the tool contract shared by file, exec, and MCP
// bridge tools, and a Registry that adapts a set of named tools into the
// agentloop.ToolExecutor interface.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rodmena-limited/trust5/internal/llm"
	"github.com/rodmena-limited/trust5/internal/tools/policy"
)

// Tool is the contract every built-in and MCP-bridged tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*llm.ToolResult, error)
}

// Registry holds the tools available to a single agent loop invocation and
// dispatches llm.ToolCall values to them, enforcing a per-call FileAccess
// policy on Write/Edit/ApplyPatch tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	access  policy.FileAccess
}

// NewRegistry returns an empty registry scoped by access.
func NewRegistry(access policy.FileAccess) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		access:  access,
	}
}

// Register adds tool, replacing any existing tool of the same name, and
// compiles its JSON schema once so Execute can validate arguments against
// it on every call without re-parsing the schema each time. A tool whose
// schema fails to compile still registers — it just runs unvalidated,
// the same as a tool with no schema at all.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.schemas, tool.Name())
	if sch, err := compileSchema(tool.Name(), tool.Schema()); err == nil && sch != nil {
		r.schemas[tool.Name()] = sch
	}
}

// compileSchema compiles a tool's parameter schema under an in-memory
// resource URL scoped to the tool's name, so two tools with structurally
// identical schemas don't collide in the compiler's resource cache.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	url := "mem://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("compile schema for tool %q: %w", name, err)
	}
	return c.Compile(url)
}

// Definitions returns the tool schema list to advertise to the LLM gateway.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Schema(), &schema)
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      schema,
		})
	}
	return defs
}

// fileArgTools names the tools whose "path" argument is checked against
// the registry's FileAccess policy before execution.
var fileArgTools = map[string]bool{
	"write":      true,
	"edit":       true,
	"apply_patch": true,
}

// Execute implements agentloop.ToolExecutor.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()
	if !ok {
		return llm.ToolResult{ToolCallID: call.ID, IsError: true, Content: fmt.Sprintf("unknown tool %q", call.Name)}, nil
	}

	params := json.RawMessage(call.Arguments)

	if schema != nil {
		var decoded any
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		if err := json.Unmarshal(params, &decoded); err != nil {
			return llm.ToolResult{
				ToolCallID: call.ID,
				IsError:    true,
				Content:    fmt.Sprintf("arguments for %q are not valid JSON: %v", call.Name, err),
			}, nil
		}
		if err := schema.Validate(decoded); err != nil {
			return llm.ToolResult{
				ToolCallID: call.ID,
				IsError:    true,
				Content:    fmt.Sprintf("arguments for %q failed schema validation: %v", call.Name, err),
			}, nil
		}
	}

	if fileArgTools[call.Name] {
		if path, denied := r.deniedPath(params); denied {
			return llm.ToolResult{
				ToolCallID: call.ID,
				IsError:    true,
				Content:    fmt.Sprintf("write to %q is denied by the task's file access policy", path),
			}, nil
		}
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		return llm.ToolResult{ToolCallID: call.ID, IsError: true, Content: err.Error()}, nil
	}
	if result == nil {
		result = &llm.ToolResult{}
	}
	result.ToolCallID = call.ID
	return *result, nil
}

func (r *Registry) deniedPath(args json.RawMessage) (string, bool) {
	var decoded struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &decoded); err != nil || decoded.Path == "" {
		return "", false
	}
	if r.access.Allows(decoded.Path) {
		return "", false
	}
	return decoded.Path, true
}
