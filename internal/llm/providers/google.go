package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/rodmena-limited/trust5/internal/llm"
)

// Google adapts google.golang.org/genai's GenerateContentStream to
// llm.Provider, targeting the Gemini family.
type Google struct {
	client *genai.Client
	models []llm.Model
}

// NewGoogle builds a Google provider against the Gemini API (or Vertex AI,
// depending on how client was constructed by the caller).
func NewGoogle(ctx context.Context, apiKey string, models []llm.Model) (*Google, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Google{client: client, models: models}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) Models(ctx context.Context) ([]llm.Model, error) {
	return g.models, nil
}

func (g *Google) Complete(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, m := range req.Messages {
		part := genai.NewPartFromText(m.Content)
		switch m.Role {
		case llm.RoleSystem:
			systemInstruction = genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser)
		case llm.RoleUser, llm.RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleModel))
		}
	}

	cfg := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	for _, t := range req.Tools {
		schemaJSON, _ := json.Marshal(t.Schema)
		var params genai.Schema
		_ = json.Unmarshal(schemaJSON, &params)
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  &params,
			}},
		})
	}

	iter := g.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg)

	out := make(chan llm.Chunk, 16)
	go g.drain(iter, out)
	return out, nil
}

func (g *Google) drain(iter func(func(*genai.GenerateContentResponse, error) bool), out chan<- llm.Chunk) {
	defer close(out)

	var usage llm.Usage
	var sawError error

	iter(func(resp *genai.GenerateContentResponse, err error) bool {
		if err != nil {
			sawError = err
			return false
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					out <- llm.Chunk{Kind: llm.ChunkText, Text: part.Text}
				}
				if part.FunctionCall != nil {
					args, _ := json.Marshal(part.FunctionCall.Args)
					out <- llm.Chunk{Kind: llm.ChunkToolCall, ToolCall: &llm.ToolCall{
						Name: part.FunctionCall.Name, Arguments: string(args),
					}}
				}
			}
		}
		if resp.UsageMetadata != nil {
			usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		return true
	})

	if sawError != nil {
		out <- llm.Chunk{Kind: llm.ChunkError, Err: llm.NewProviderError("google", 0, fmt.Errorf("stream: %w", sawError))}
		return
	}
	out <- llm.Chunk{Kind: llm.ChunkDone, Usage: &usage}
}
