// Package llm provides the multi-backend gateway the pipeline's agent loop
// talks to: a single Chat entrypoint backed by per-model circuit breakers,
// a fallback chain across providers, and classification-driven retry
// budgets, so stage tasks never have to know whether a turn was served by
// Ollama, Anthropic, or Google.
package llm

import (
	"context"
	"time"
)

// Role identifies the speaker of a message in a chat transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested invocation of a registered tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// ToolResult is the outcome of executing a ToolCall, fed back to the model
// as a tool-role message on the next turn.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is one turn of the conversation sent to or received from a
// provider.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolDefinition describes a callable tool in provider-agnostic form; each
// provider adapter translates this into its own wire schema.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any // JSON Schema, produced by invopop/jsonschema
}

// Model describes a single model a provider can serve.
type Model struct {
	ID             string
	Provider       string
	ContextWindow  int
	MaxOutputTokens int
	SupportsTools  bool
}

// Request is a single completion request sent to a provider.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// ChunkKind discriminates the payload carried by a streamed Chunk.
type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkToolCall  ChunkKind = "tool_call"
	ChunkDone      ChunkKind = "done"
	ChunkError     ChunkKind = "error"
)

// Chunk is one unit of a streamed completion. Providers emit a sequence of
// ChunkText (and possibly ChunkToolCall) values terminated by a ChunkDone
// carrying the final Usage.
type Chunk struct {
	Kind      ChunkKind
	Text      string
	ToolCall  *ToolCall
	Usage     *Usage
	Err       error
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is the interface every backend (Ollama, Anthropic, Google)
// implements. Complete streams chunks on the returned channel and closes it
// when the request finishes or ctx is cancelled; a non-nil error return
// means the request could not even be started.
type Provider interface {
	Name() string
	Models(ctx context.Context) ([]Model, error)
	Complete(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Result is the fully drained, non-streaming view of a completion — what
// the agent loop works with after consuming a Provider's channel.
type Result struct {
	Message   Message
	Usage     Usage
	ModelID   string
	Provider  string
	Elapsed   time.Duration
}
