package main

import (
	"log/slog"
	"net/http"

	"github.com/rs/dnscache"

	"github.com/GabrielHori/horizon-worker/internal/circuitbreaker"
	"github.com/GabrielHori/horizon-worker/internal/cloudauth"
	"github.com/GabrielHori/horizon-worker/internal/config"
	"github.com/GabrielHori/horizon-worker/internal/llm"
	"github.com/GabrielHori/horizon-worker/internal/llm/remote"
	"github.com/GabrielHori/horizon-worker/internal/provider"
	"github.com/GabrielHori/horizon-worker/internal/provider/anthropic"
	"github.com/GabrielHori/horizon-worker/internal/provider/gemini"
	"github.com/GabrielHori/horizon-worker/internal/provider/openai"
)

// buildCloudProviders registers each configured cloud passthrough entry in
// a provider.Registry, then wraps every registered gateway.Provider behind
// its own circuit breaker as an llm.Provider. These are wired only into
// the remote HTTP surface's chat handler (SPEC_FULL.md §4.8[ADD]) -- the
// local `chat` IPC command's Providers map never sees them, keeping its
// provider set exactly {ollama, airllm}.
func buildCloudProviders(cfgs []config.CloudProviderConfig, resolver *dnscache.Resolver) map[string]llm.Provider {
	registry := provider.NewRegistry()
	for _, c := range cfgs {
		switch c.Kind {
		case "anthropic":
			client := &http.Client{Transport: &cloudauth.APIKeyTransport{
				Key:        c.APIKey,
				HeaderName: "x-api-key",
			}}
			registry.Register(c.Name, anthropic.New(c.Name, c.BaseURL, client))
		case "gemini":
			registry.Register(c.Name, gemini.New(c.APIKey, c.BaseURL, resolver))
		case "openai":
			registry.Register(c.Name, openai.New(c.APIKey, c.BaseURL, resolver))
		default:
			slog.Warn("unknown cloud provider kind, skipping", "name", c.Name, "kind", c.Kind)
		}
	}

	out := make(map[string]llm.Provider, len(cfgs))
	for _, name := range registry.List() {
		inner, err := registry.Get(name)
		if err != nil {
			continue
		}
		breaker := circuitbreaker.NewBreaker(circuitbreaker.DefaultConfig())
		out[name] = remote.NewAdapter(name, inner, breaker)
	}
	return out
}
