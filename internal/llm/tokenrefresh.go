package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rodmena-limited/trust5/internal/eventbus"
)

// TokenRefresher exchanges a provider's stored refresh token for a new
// access token. internal/cliauth implements this over its encrypted
// credential store; Gateway only depends on the interface so it never
// needs to know how or where a credential is persisted.
type TokenRefresher interface {
	Refresh(ctx context.Context) (accessToken string, expiresAt time.Time, err error)
}

// ProactiveChecker is an optional extension to TokenRefresher: a refresher
// that knows its credential's expiry can report when it's close enough to
// refresh ahead of a live 401, mirroring the original pipeline's
// TOKEN_REFRESH_MARGIN check. A TokenRefresher that doesn't implement this
// is only ever refreshed reactively, on an actual auth failure.
type ProactiveChecker interface {
	NeedsRefresh(ctx context.Context) bool
}

// CredentialRotator is implemented by a Provider whose live transport
// credential can be swapped in place after construction. A Provider that
// doesn't implement it (e.g. Ollama, which has no auth at all) simply
// never has its credential touched on refresh.
type CredentialRotator interface {
	SetCredential(token string)
}

// RotatingCredential is an http.RoundTripper that injects a bearer/API-key
// style header into every outbound request, with the header value
// swappable after the provider's HTTP client has already been built. This
// is what lets a Gateway-driven token refresh take effect on the very next
// request to an SDK-wrapped provider without rebuilding its client.
type RotatingCredential struct {
	mu     sync.RWMutex
	header string
	value  string
	next   http.RoundTripper
}

// NewRotatingCredential builds a RotatingCredential that writes value under
// header on every request before delegating to next (http.DefaultTransport
// if nil).
func NewRotatingCredential(header, value string, next http.RoundTripper) *RotatingCredential {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RotatingCredential{header: header, value: value, next: next}
}

// Set replaces the credential value used on subsequent requests.
func (c *RotatingCredential) Set(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
}

// SetCredential implements CredentialRotator directly, so a Provider can
// embed a *RotatingCredential and get the interface for free.
func (c *RotatingCredential) SetCredential(token string) { c.Set(token) }

func (c *RotatingCredential) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.RLock()
	header, value := c.header, c.value
	c.mu.RUnlock()
	if header != "" && value != "" {
		req = req.Clone(req.Context())
		if header == "Authorization" {
			req.Header.Set(header, "Bearer "+value)
		} else {
			req.Header.Set(header, value)
		}
	}
	return c.next.RoundTrip(req)
}

// tokenRefreshDelays is the fixed backoff sequence between refresh
// attempts: 2s, 4s, 8s. Unlike the Full-Jitter retry budgets in errors.go,
// a token refresh is a bespoke, low-volume operation with its own fixed
// schedule, not a generic per-class retry.
var tokenRefreshDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// tryRefresh looks up a registered TokenRefresher for provider and, if one
// exists, refreshes under that provider's dedicated lock so concurrent
// callers hitting the same 401 don't race each other through the OAuth
// token endpoint. Returns false immediately (no refresh attempted) when no
// refresher is configured for the provider.
func (g *Gateway) tryRefresh(ctx context.Context, provider string) bool {
	tr, ok := g.refreshers[provider]
	if !ok {
		return false
	}
	lock := g.refreshLockFor(provider)
	lock.Lock()
	defer lock.Unlock()
	return g.refreshLocked(ctx, provider, tr)
}

// maybeProactiveRefresh refreshes provider's credential ahead of time when
// its TokenRefresher also implements ProactiveChecker and reports the
// token is close enough to expiry. Errors are swallowed: a failed
// proactive refresh just leaves the existing (still valid for now)
// credential in place, and the reactive path catches a genuine expiry.
func (g *Gateway) maybeProactiveRefresh(ctx context.Context, provider string) {
	tr, ok := g.refreshers[provider]
	if !ok {
		return
	}
	pc, ok := tr.(ProactiveChecker)
	if !ok || !pc.NeedsRefresh(ctx) {
		return
	}
	lock := g.refreshLockFor(provider)
	lock.Lock()
	defer lock.Unlock()
	g.refreshLocked(ctx, provider, tr)
}

func (g *Gateway) refreshLockFor(provider string) *sync.Mutex {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()
	if g.refreshLocks == nil {
		g.refreshLocks = make(map[string]*sync.Mutex)
	}
	l, ok := g.refreshLocks[provider]
	if !ok {
		l = &sync.Mutex{}
		g.refreshLocks[provider] = l
	}
	return l
}

// refreshLocked runs the refresh attempt sequence. Must be called with
// that provider's refresh lock held. A connection/timeout failure retries
// after the next fixed delay; anything else (invalid_grant, a malformed
// client, a canceled context) is permanent and fails immediately rather
// than burning through every delay for a request that will never succeed.
func (g *Gateway) refreshLocked(ctx context.Context, provider string, tr TokenRefresher) bool {
	var lastErr error
	for attempt, delay := range tokenRefreshDelays {
		token, _, err := tr.Refresh(ctx)
		if err == nil {
			g.applyRefreshedCredential(provider, token)
			g.publish(eventbus.CodeSystemWarn, fmt.Sprintf("token refreshed for %s (attempt %d)", provider, attempt+1))
			return true
		}
		lastErr = err
		if !isTransientRefreshError(err) {
			g.publish(eventbus.CodeSystemWarn, fmt.Sprintf("token refresh for %s failed permanently: %v", provider, err))
			return false
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}
	g.publish(eventbus.CodeSystemWarn, fmt.Sprintf("token refresh for %s exhausted retries: %v", provider, lastErr))
	return false
}

// applyRefreshedCredential pushes a newly refreshed access token into the
// live provider, if that provider supports in-place rotation.
func (g *Gateway) applyRefreshedCredential(provider, token string) {
	p, ok := g.providers[provider]
	if !ok {
		return
	}
	if rot, ok := p.(CredentialRotator); ok {
		rot.SetCredential(token)
	}
}

// isTransientRefreshError reports whether err looks like a network-level
// failure (dial/timeout/reset) worth retrying, as opposed to an OAuth
// rejection (invalid_grant, bad client credentials) or any other error,
// which is treated as permanent to avoid looping on a refresh that will
// never succeed.
func isTransientRefreshError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
