// Package llm defines the local-model provider boundary and the chat
// handler that drives it. Provider mirrors internal/gateway.go's Provider
// interface from the teacher, narrowed to the single streaming-chat
// capability the local IPC surface needs. internal/llm/remote.Adapter
// also implements this interface so cloud passthrough providers can sit
// in a Handler's Providers map, but cmd/horizon-worker only ever puts
// them in the remote HTTP surface's Handler instance, never the local
// `chat` IPC command's.
package llm

import (
	"context"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// ChatRequest is a provider-agnostic streaming chat request. Messages
// carries the structured prompt as role-tagged turns (system preamble,
// memory/context/history, trailing user turn); Prompt is kept alongside
// as the flat rendering for providers with no message-array API of their
// own (the sidecar's single-shot generation call).
type ChatRequest struct {
	Model       string
	Messages    []horizon.Message
	Prompt      string // flat rendering of the structured prompt
	MaxTokens   int
	Temperature float64
}

// Chunk is one piece of a streaming chat response. Done is true exactly
// once, on the final chunk; Err is set when the stream ended abnormally.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Provider is a local chat runtime: either a native streaming model server
// (internal/llm/ollama) or the sidecar supervisor (internal/llm/sidecar)
// fronted by this same interface so the chat handler need not distinguish
// them.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}

// Names recognized by the chat handler's provider dispatch (spec.md §4.8).
const (
	ProviderOllama = "ollama"
	ProviderAirLLM = "airllm"
)
