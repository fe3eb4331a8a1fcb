package cliauth

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// KnownProviders are the backends the CLI's --provider flag accepts.
var KnownProviders = []string{"claude", "google", "ollama"}

func IsKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// providerKey maps a CLI-facing provider name to the llm.Gateway/provider
// config key it's registered under ("claude" speaks to the Anthropic API).
func ProviderKey(cliName string) string {
	if cliName == "claude" {
		return "anthropic"
	}
	return cliName
}

// Login obtains a credential for provider and stores it. headless disables
// any prompt that would block waiting for a terminal; in headless mode the
// caller must supply presetAPIKey (e.g. from an environment variable).
func Login(store *Store, provider string, in io.Reader, out io.Writer, headless bool, presetAPIKey string) (Record, error) {
	if !IsKnownProvider(provider) {
		return Record{}, fmt.Errorf("cliauth: unknown provider %q (want one of %v)", provider, KnownProviders)
	}

	rec := Record{Provider: provider}

	switch provider {
	case "ollama":
		rec.BaseURL = strings.TrimSpace(presetAPIKey)
		if rec.BaseURL == "" {
			rec.BaseURL = "http://localhost:11434"
		}
		fmt.Fprintf(out, "ollama requires no API key; using base URL %s\n", rec.BaseURL)

	case "claude", "google":
		key := strings.TrimSpace(presetAPIKey)
		if key == "" {
			if headless {
				return Record{}, fmt.Errorf("cliauth: --headless login for %q requires an API key via TRUST5_API_KEY", provider)
			}
			var err error
			key, err = promptSecret(in, out, fmt.Sprintf("Paste your %s API key: ", provider))
			if err != nil {
				return Record{}, err
			}
		}
		if key == "" {
			return Record{}, fmt.Errorf("cliauth: %s API key must not be empty", provider)
		}
		rec.APIKey = key
	}

	rec.CreatedAt = time.Now()
	if err := store.Put(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func promptSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("cliauth: read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
