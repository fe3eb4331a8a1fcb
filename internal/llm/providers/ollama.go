// Package providers implements llm.Provider over each supported backend.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rodmena-limited/trust5/internal/llm"
)

// Ollama talks to a local Ollama daemon's /api/chat streaming endpoint.
// Ollama has no auth and no rate limiting, so every non-2xx response
// classifies as either a connection or server error.
type Ollama struct {
	BaseURL string
	HTTP    *http.Client
}

// NewOllama builds an Ollama provider rooted at baseURL (e.g.
// "http://localhost:11434"). A nil http.Client gets a sane default with no
// overall timeout, since responses stream indefinitely.
func NewOllama(baseURL string) *Ollama {
	return &Ollama{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Models(ctx context.Context) ([]llm.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return nil, llm.NewProviderError(o.Name(), 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewProviderErrorFromResponse(o.Name(), resp, fmt.Errorf("list models: status %d", resp.StatusCode))
	}

	var body struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]llm.Model, 0, len(body.Models))
	for _, m := range body.Models {
		out = append(out, llm.Model{ID: m.Name, Provider: o.Name(), SupportsTools: true})
	}
	return out, nil
}

type ollamaMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ollamaChatChunk struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done               bool `json:"done"`
	PromptEvalCount    int  `json:"prompt_eval_count"`
	EvalCount          int  `json:"eval_count"`
}

func (o *Ollama) Complete(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	body := ollamaChatRequest{Model: req.Model, Stream: true}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, t := range req.Tools {
		ot := ollamaTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Schema
		body.Tools = append(body.Tools, ot)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTP.Do(httpReq)
	if err != nil {
		return nil, llm.NewProviderError(o.Name(), 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, llm.NewProviderErrorFromResponse(o.Name(), resp, fmt.Errorf("%s", string(data)))
	}

	out := make(chan llm.Chunk, 16)
	go o.stream(resp.Body, out)
	return out, nil
}

func (o *Ollama) stream(body io.ReadCloser, out chan<- llm.Chunk) {
	defer body.Close()
	defer close(out)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			out <- llm.Chunk{Kind: llm.ChunkError, Err: err}
			return
		}
		if chunk.Message.Content != "" {
			out <- llm.Chunk{Kind: llm.ChunkText, Text: chunk.Message.Content}
		}
		for _, tc := range chunk.Message.ToolCalls {
			args, _ := json.Marshal(tc.Function.Arguments)
			out <- llm.Chunk{Kind: llm.ChunkToolCall, ToolCall: &llm.ToolCall{Name: tc.Function.Name, Arguments: string(args)}}
		}
		if chunk.Done {
			out <- llm.Chunk{Kind: llm.ChunkDone, Usage: &llm.Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		out <- llm.Chunk{Kind: llm.ChunkError, Err: err}
	}
}
