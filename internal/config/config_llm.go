package config

import "strings"

// LLMConfig configures the gateway's backend selection and fallback order.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider's
	// circuit is open or its retry budget is exhausted. Tried in order
	// until one succeeds.
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig configures a single backend (ollama, anthropic, google).
type LLMProviderConfig struct {
	APIKey       string                              `yaml:"api_key"`
	DefaultModel string                              `yaml:"default_model"`
	BaseURL      string                              `yaml:"base_url"`
	APIVersion   string                              `yaml:"api_version"`
	Profiles     map[string]LLMProviderProfileConfig `yaml:"profiles"`

	// AuthHeaderName is the HTTP header a refreshed OAuth access token is
	// written to ("Authorization" for a bearer token). Empty means this
	// backend was configured with a plain API key and has no token-refresh
	// path at all.
	AuthHeaderName string `yaml:"auth_header_name"`
	// ProviderName identifies the OAuth provider registration (client id +
	// token endpoint) that supplies refresh grants for this backend. Only
	// meaningful alongside AuthHeaderName.
	ProviderName string `yaml:"provider_name"`
	// TokenURL is the OAuth token endpoint used to exchange a stored
	// refresh token for a new access token.
	TokenURL string `yaml:"token_url"`
	// ClientID is the OAuth client id presented during the refresh grant.
	ClientID string `yaml:"client_id"`
}

// LLMProviderProfileConfig overrides a provider's settings for a named
// model tier (e.g. "fast" vs "careful") without duplicating the whole
// provider block.
type LLMProviderProfileConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func validProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ollama", "anthropic", "google":
		return true
	default:
		return false
	}
}
