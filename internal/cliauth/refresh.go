package cliauth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// CLIRefresher refreshes a provider's stored OAuth access token using its
// stored refresh token, and persists the rotated credential back to Store.
// It satisfies internal/llm's TokenRefresher interface structurally —
// cliauth never imports internal/llm, so the gateway depends on the
// interface and this package depends on nothing above it.
type CLIRefresher struct {
	Store    *Store
	Provider string
	Endpoint oauth2.Endpoint
	ClientID string
}

// Refresh exchanges the stored refresh token for a new access token via
// the standard OAuth2 refresh-token grant and writes the result back to
// Store before returning it.
func (r *CLIRefresher) Refresh(ctx context.Context) (string, time.Time, error) {
	records, err := r.Store.Load()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("cliauth: load record for refresh: %w", err)
	}
	current, ok := records[r.Provider]
	if !ok || current.RefreshToken == "" {
		return "", time.Time{}, fmt.Errorf("cliauth: no refresh token stored for %q", r.Provider)
	}

	cfg := &oauth2.Config{ClientID: r.ClientID, Endpoint: r.Endpoint}
	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := source.Token()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("cliauth: refresh token exchange for %q: %w", r.Provider, err)
	}

	current.APIKey = tok.AccessToken
	if tok.RefreshToken != "" {
		current.RefreshToken = tok.RefreshToken
	}
	current.ExpiresAt = tok.Expiry
	if err := r.Store.Put(current); err != nil {
		return "", time.Time{}, fmt.Errorf("cliauth: persist refreshed token for %q: %w", r.Provider, err)
	}
	return tok.AccessToken, tok.Expiry, nil
}

// tokenRefreshMargin refreshes a token this far ahead of its expiry,
// matching the original pipeline's TOKEN_REFRESH_MARGIN (5 minutes).
const tokenRefreshMargin = 5 * time.Minute

// NeedsProactiveRefresh reports whether the stored record for provider
// expires within margin, mirroring the original pipeline's practice of
// refreshing ahead of expiry instead of waiting for a live 401.
func NeedsProactiveRefresh(store *Store, provider string, margin time.Duration, now time.Time) bool {
	records, err := store.Load()
	if err != nil {
		return false
	}
	rec, ok := records[provider]
	if !ok || rec.ExpiresAt.IsZero() {
		return false
	}
	return rec.ExpiresAt.Sub(now) <= margin
}

// NeedsRefresh implements llm.ProactiveChecker: true once the stored
// token is within tokenRefreshMargin of expiring.
func (r *CLIRefresher) NeedsRefresh(ctx context.Context) bool {
	return NeedsProactiveRefresh(r.Store, r.Provider, tokenRefreshMargin, time.Now())
}
