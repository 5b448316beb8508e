package llm

import (
	"fmt"
	"log/slog"
	"net/http"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/config"
)

// knownBaseURLs are the defaults for OpenAI-compatible services addressed
// by name.
var knownBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"ollama":     "http://localhost:11434/v1",
}

// NewProvider builds the configured provider, wrapped in a circuit breaker
// when enabled.
func NewProvider(cfg config.ProviderConfig, logger *slog.Logger) (domain.StreamingProvider, error) {
	if cfg.BaseURL == "" {
		base, ok := knownBaseURLs[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("llm provider %q: base_url is required", cfg.Name)
		}
		cfg.BaseURL = base
	}

	p := NewOpenAIProvider(cfg, logger)
	if cfg.Name == "openrouter" {
		p.client.Transport = &openrouterTransport{base: p.client.Transport}
	}

	var provider domain.StreamingProvider = p
	if cfg.CircuitBreaker.Enabled {
		provider = NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, logger)
	}
	return provider, nil
}

// openrouterTransport adds the attribution headers OpenRouter expects.
type openrouterTransport struct {
	base http.RoundTripper
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("X-Title", "toolbridge")
	return t.base.RoundTrip(clone)
}
