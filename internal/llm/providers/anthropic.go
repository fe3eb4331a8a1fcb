package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rodmena-limited/trust5/internal/llm"
)

// Anthropic adapts anthropic-sdk-go's streaming Messages API to llm.Provider.
type Anthropic struct {
	client anthropic.Client
	models []llm.Model
	// cred is non-nil only for a provider built with NewAnthropicWithCredential
	// (an OAuth-logged-in backend), letting llm.Gateway rotate its bearer
	// token in place after a refresh, without rebuilding the SDK client.
	cred *llm.RotatingCredential
}

// NewAnthropic builds an Anthropic provider. apiKey may be empty if
// ANTHROPIC_API_KEY is set in the environment, matching the SDK's default
// option resolution.
func NewAnthropic(apiKey, baseURL string, models []llm.Model) *Anthropic {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), models: models}
}

// NewAnthropicWithCredential builds an Anthropic provider authenticated via
// a rotatable OAuth bearer token rather than a static API key, for a
// backend logged in through the CLI's OAuth flow. cred should already hold
// the current access token; llm.Gateway calls cred.SetCredential after a
// successful token refresh so the very next request picks up the new
// token. Matches the original pipeline's oauth-2025-04-20 beta header,
// sent only alongside an OAuth bearer token, never a plain API key.
func NewAnthropicWithCredential(baseURL string, cred *llm.RotatingCredential, models []llm.Model) *Anthropic {
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Transport: cred}),
		option.WithHeader("anthropic-beta", "oauth-2025-04-20"),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), models: models, cred: cred}
}

// SetCredential implements llm.CredentialRotator.
func (a *Anthropic) SetCredential(token string) {
	if a.cred != nil {
		a.cred.SetCredential(token)
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Models(ctx context.Context) ([]llm.Model, error) {
	return a.models, nil
}

func (a *Anthropic) Complete(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case llm.RoleUser, llm.RoleTool:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	for _, t := range req.Tools {
		schema, _ := json.Marshal(t.Schema)
		var inputSchema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(schema, &inputSchema)
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema,
			},
		})
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	out := make(chan llm.Chunk, 16)
	go a.drainStream(stream, out)
	return out, nil
}

func (a *Anthropic) drainStream(stream *anthropic.MessageStreamResponse, out chan<- llm.Chunk) {
	defer close(out)

	var message anthropic.Message
	var currentToolID, currentToolName string
	var currentArgs []byte

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			out <- llm.Chunk{Kind: llm.ChunkError, Err: err}
			return
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				currentToolID, currentToolName = tu.ID, tu.Name
				currentArgs = currentArgs[:0]
			}
		case anthropic.ContentBlockDeltaEvent:
			if variant.Delta.Text != "" {
				out <- llm.Chunk{Kind: llm.ChunkText, Text: variant.Delta.Text}
			}
			if variant.Delta.PartialJSON != "" {
				currentArgs = append(currentArgs, []byte(variant.Delta.PartialJSON)...)
			}
		case anthropic.ContentBlockStopEvent:
			if currentToolName != "" {
				out <- llm.Chunk{Kind: llm.ChunkToolCall, ToolCall: &llm.ToolCall{
					ID: currentToolID, Name: currentToolName, Arguments: string(currentArgs),
				}}
				currentToolID, currentToolName = "", ""
			}
		}
	}

	if err := stream.Err(); err != nil {
		status, clsErr := statusFromAnthropicErr(err)
		out <- llm.Chunk{Kind: llm.ChunkError, Err: llm.NewProviderError("anthropic", status, clsErr)}
		return
	}

	out <- llm.Chunk{Kind: llm.ChunkDone, Usage: &llm.Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}}
}

func statusFromAnthropicErr(err error) (int, error) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, apiErr
	}
	return 0, err
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
