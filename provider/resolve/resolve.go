// Package resolve maps provider names to concrete adapters. The provider
// set is closed: openai, anthropic, azure, ollama, google, xai, and
// openrouter. Unknown names fail rather than guess an endpoint.
package resolve

import (
	"fmt"
	"net/url"

	"github.com/nevindra/agentworld"
	"github.com/nevindra/agentworld/provider/anthropic"
	"github.com/nevindra/agentworld/provider/gemini"
	"github.com/nevindra/agentworld/provider/openaicompat"
)

// Provider creates an agentworld.Provider from an LLMConfig.
func Provider(cfg agentworld.LLMConfig) (agentworld.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		var opts []anthropic.ProviderOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.NewProvider(cfg.APIKey, cfg.Model, opts...), nil

	case "google":
		return gemini.New(cfg.APIKey, cfg.Model), nil

	case "azure":
		return azureProvider(cfg)

	case "openai", "ollama", "xai", "openrouter":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL,
			openaicompat.WithName(cfg.Provider)), nil

	default:
		return nil, &agentworld.ErrValidation{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

// Resolver adapts Provider to the agentworld.ProviderResolver interface.
func Resolver() agentworld.ProviderResolver {
	return agentworld.ProviderResolverFunc(Provider)
}

// azureProvider builds an OpenAI-compatible adapter for Azure's endpoint
// shape: the deployment replaces the model in the URL and the api-key
// header replaces the bearer token.
func azureProvider(cfg agentworld.LLMConfig) (agentworld.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, &agentworld.ErrValidation{Field: "baseUrl", Reason: "required for azure"}
	}
	deployment := cfg.Deployment
	if deployment == "" {
		deployment = cfg.Model
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		cfg.BaseURL, url.PathEscape(deployment), url.QueryEscape(apiVersion))
	return openaicompat.NewProvider("", cfg.Model, cfg.BaseURL,
		openaicompat.WithName("azure"),
		openaicompat.WithEndpointURL(endpoint),
		openaicompat.WithHeader("api-key", cfg.APIKey)), nil
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	case "xai":
		return "https://api.x.ai/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	default:
		return ""
	}
}
