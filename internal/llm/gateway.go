package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/rodmena-limited/trust5/internal/infra"
	"github.com/rodmena-limited/trust5/internal/observability"
)

// contextWindowGuardFraction trims history once the estimated prompt size
// crosses this fraction of a model's known context window.
const contextWindowGuardFraction = 0.90

// Trimmer prunes a message history down to fit a token budget. The agent
// loop's context packer implements this; Gateway only calls it when a
// request would exceed contextWindowGuardFraction of the model's window.
type Trimmer interface {
	Trim(ctx context.Context, messages []Message, maxTokens int) ([]Message, error)
}

// Gateway is the single entrypoint stage tasks and the agent loop use to
// talk to an LLM, regardless of backend. It owns the fallback chain, the
// per-model circuit breakers, and the classification-driven retry budgets.
type Gateway struct {
	providers map[string]Provider
	chain     []string // provider names, in fallback order
	breakers  *infra.CircuitBreakerRegistry
	bus       *eventbus.Bus
	logger    *slog.Logger
	trimmer   Trimmer
	models    map[string]Model // modelID -> Model, merged across providers
	metrics   *observability.Metrics

	refreshers   map[string]TokenRefresher
	refreshLocks map[string]*sync.Mutex
	refreshMu    sync.Mutex
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

func WithEventBus(b *eventbus.Bus) Option        { return func(g *Gateway) { g.bus = b } }
func WithLogger(l *slog.Logger) Option           { return func(g *Gateway) { g.logger = l } }
func WithTrimmer(t Trimmer) Option                { return func(g *Gateway) { g.trimmer = t } }
func WithMetrics(m *observability.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// WithTokenRefresher registers a TokenRefresher for provider, so a 401/403
// from that provider triggers a refresh-lock-guarded refresh attempt and a
// single retry before the fallback chain gives up on it. Providers with no
// registered refresher get the prior behavior: an auth error aborts the
// chain immediately.
func WithTokenRefresher(provider string, tr TokenRefresher) Option {
	return func(g *Gateway) {
		if g.refreshers == nil {
			g.refreshers = make(map[string]TokenRefresher)
		}
		g.refreshers[provider] = tr
	}
}

// New builds a Gateway over the given providers. chain is the fallback
// order (provider Name()); providers not named in chain are still
// reachable by direct Name() lookup but never used as a fallback target.
func New(providers []Provider, chain []string, opts ...Option) *Gateway {
	g := &Gateway{
		providers:    make(map[string]Provider, len(providers)),
		chain:        chain,
		breakers:     infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{FailureThreshold: 5, Timeout: 30 * time.Second}),
		logger:       slog.Default(),
		models:       make(map[string]Model),
		refreshLocks: make(map[string]*sync.Mutex),
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterModel records a model's metadata so the Gateway can apply the
// context-window guard before sending a request for it.
func (g *Gateway) RegisterModel(m Model) { g.models[m.ID] = m }

// Chat drains req against the fallback chain, retrying within each
// provider per its error class and falling through to the next provider
// for every error class except connection and auth failures, which abort
// the chain immediately instead of trying another backend. It returns the
// first successful Result, or the last error if every provider in the
// chain is exhausted.
func (g *Gateway) Chat(ctx context.Context, req Request) (*Result, error) {
	if err := g.applyContextGuard(ctx, &req); err != nil {
		return nil, fmt.Errorf("context guard: %w", err)
	}

	order := g.chain
	if order == nil {
		order = []string{}
	}

	var lastErr error
	tried := make(map[string]bool)
	candidates := g.resolveCandidates(req.Model, order)
	for _, name := range candidates {
		if tried[name] {
			continue
		}
		tried[name] = true

		p, ok := g.providers[name]
		if !ok {
			continue
		}

		g.maybeProactiveRefresh(ctx, name)

		res, err := g.chatOne(ctx, p, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		class := ClassOf(err)
		g.publish(eventbus.CodeSystemWarn, fmt.Sprintf("provider %s failed (%s): %v", name, class, err))

		if class == ClassAuth && g.tryRefresh(ctx, name) {
			res, err = g.chatOne(ctx, p, req)
			if err == nil {
				return res, nil
			}
			lastErr = err
			class = ClassOf(err)
			g.publish(eventbus.CodeSystemWarn, fmt.Sprintf("provider %s failed again after token refresh (%s): %v", name, class, err))
		}

		if class == ClassConnection || class == ClassAuth {
			// A connection failure or bad credentials means this provider
			// itself is unreachable or misconfigured right now - no amount
			// of retrying within it will help, but another provider in the
			// chain might still serve the request, so stop retrying here
			// and fall through.
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no provider available for model %q", req.Model)
	}
	return nil, lastErr
}

// resolveCandidates puts the provider that owns req.Model first (if known),
// then appends the configured fallback chain.
func (g *Gateway) resolveCandidates(modelID string, chain []string) []string {
	var out []string
	if m, ok := g.models[modelID]; ok {
		out = append(out, m.Provider)
	}
	out = append(out, chain...)
	return out
}

// chatOne runs req against a single provider with that provider's circuit
// breaker and the retry budget for whatever error class it produces.
func (g *Gateway) chatOne(ctx context.Context, p Provider, req Request) (*Result, error) {
	cb := g.breakers.Get(p.Name())
	start := time.Now()

	res, err := infra.ExecuteWithResult(cb, ctx, func(ctx context.Context) (*Result, error) {
		return g.retryChat(ctx, p, req)
	})
	g.recordMetrics(p.Name(), req.Model, time.Since(start), res, err)
	return res, err
}

// recordMetrics is a no-op when the Gateway was built without
// WithMetrics - callers that never enable observability pay nothing
// beyond the nil check.
func (g *Gateway) recordMetrics(provider, model string, elapsed time.Duration, res *Result, err error) {
	if g.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	g.metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	if res != nil {
		g.metrics.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(res.Usage.PromptTokens))
		g.metrics.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(res.Usage.CompletionTokens))
	}
}

func (g *Gateway) retryChat(ctx context.Context, p Provider, req Request) (*Result, error) {
	start := time.Now()
	var lastErr error
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, err := g.drain(ctx, p, req)
		if err == nil {
			res.Elapsed = time.Since(start)
			return res, nil
		}
		lastErr = err

		class := ClassOf(err)
		budget := Budgets[class]
		if budget.BudgetMS == 0 {
			return nil, err
		}

		delay := fullJitterDelay(budget.BaseDelayMS, attempt)
		if class == ClassRateLimit {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.RetryAfter > 0 {
				// The server told us exactly how long to wait - honor that
				// over the jittered guess, with the same 10s floor the
				// fixed budget table uses for an unspecified Retry-After.
				delay = pe.RetryAfter
				if delay < 10*time.Second {
					delay = 10 * time.Second
				}
			}
		}
		elapsed := time.Since(start)
		if elapsed+delay > time.Duration(budget.BudgetMS)*time.Millisecond {
			return nil, lastErr
		}

		attempt++
		g.publish(eventbus.CodeRetry, fmt.Sprintf("%s retry %d (%s) in %dms: %v", p.Name(), attempt, class, delay.Milliseconds(), err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// fullJitterDelay implements delay = uniform(0, min(cap, base*2^attempt))
// with base/cap in milliseconds and a 300s absolute cap.
func fullJitterDelay(baseMS int64, attempt int) time.Duration {
	const capMS = 300_000
	upper := baseMS
	for i := 0; i < attempt; i++ {
		upper *= 2
		if upper >= capMS {
			upper = capMS
			break
		}
	}
	return time.Duration(rand.Float64() * float64(upper) * float64(time.Millisecond))
}

// drain consumes a Provider's streamed channel into a single Result,
// forwarding each text chunk to the event bus as it arrives.
func (g *Gateway) drain(ctx context.Context, p Provider, req Request) (*Result, error) {
	ch, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var msg Message
	msg.Role = RoleAssistant
	var usage Usage

	for chunk := range ch {
		switch chunk.Kind {
		case ChunkText:
			msg.Content += chunk.Text
			g.publishToken(chunk.Text)
		case ChunkToolCall:
			if chunk.ToolCall != nil {
				msg.ToolCalls = append(msg.ToolCalls, *chunk.ToolCall)
			}
		case ChunkDone:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case ChunkError:
			return nil, chunk.Err
		}
	}

	return &Result{Message: msg, Usage: usage, ModelID: req.Model, Provider: p.Name()}, nil
}

func (g *Gateway) publishToken(text string) {
	if g.bus == nil || text == "" {
		return
	}
	g.bus.Publish(eventbus.New(eventbus.KindStreamToken, "", text))
}

func (g *Gateway) publish(code, msg string) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(eventbus.New(eventbus.KindMessage, code, msg))
}

// applyContextGuard estimates the request's token footprint and, once it
// crosses contextWindowGuardFraction of the target model's known context
// window, asks the configured Trimmer to cut it down.
func (g *Gateway) applyContextGuard(ctx context.Context, req *Request) error {
	if g.trimmer == nil {
		return nil
	}
	m, ok := g.models[req.Model]
	if !ok || m.ContextWindow <= 0 {
		return nil
	}

	estimate := estimateTokens(req.Messages)
	threshold := int(float64(m.ContextWindow) * contextWindowGuardFraction)
	if estimate <= threshold {
		return nil
	}

	trimmed, err := g.trimmer.Trim(ctx, req.Messages, threshold)
	if err != nil {
		return err
	}
	req.Messages = trimmed
	return nil
}

// estimateTokens uses the common ~4-bytes-per-token heuristic; exact
// tokenization is provider-specific and not worth the dependency just to
// decide whether to trim.
func estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
		for _, tc := range m.ToolCalls {
			total += len(tc.Arguments) / 4
		}
	}
	return total
}
