// Package remote adapts the teacher gateway's cloud chat providers
// (anthropic, gemini, openai) into the worker's narrow llm.Provider shape,
// for the tunneled HTTP surface only (internal/remote) — never reachable
// from the local `chat` IPC command, whose providers stay exactly
// {ollama, airllm} per spec.md's data model. Grounded on
// internal/server/proxy.go's passthrough of gateway.StreamChunk and
// internal/circuitbreaker's per-provider Breaker, generalized from "one
// breaker per configured provider row" to "one breaker per cloud adapter
// instance".
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	gateway "github.com/GabrielHori/horizon-worker/internal"
	"github.com/GabrielHori/horizon-worker/internal/circuitbreaker"
	"github.com/GabrielHori/horizon-worker/internal/llm"
)

// ErrCircuitOpen is returned when the breaker for a cloud provider is open.
var ErrCircuitOpen = errors.New("remote provider circuit open")

// Adapter wraps a gateway.Provider (anthropic/gemini/openai) behind
// llm.Provider, gating calls through a circuit breaker so a flaky cloud
// endpoint can't wedge the tunneled chat surface.
type Adapter struct {
	name    string
	inner   gateway.Provider
	breaker *circuitbreaker.Breaker
}

// NewAdapter wraps provider, using breaker to gate calls. A nil breaker
// disables gating. cmd/horizon-worker gives each adapter its own breaker
// from circuitbreaker.NewBreaker.
func NewAdapter(name string, provider gateway.Provider, breaker *circuitbreaker.Breaker) *Adapter {
	return &Adapter{name: name, inner: provider, breaker: breaker}
}

func (a *Adapter) Name() string { return a.name }

// StreamChat translates llm.ChatRequest into the teacher's OpenAI-
// compatible gateway.ChatRequest, forwarding the structured prompt's
// role-tagged messages (system preamble, history, user turn) rather than
// collapsing them into one synthesized user turn, opens a streaming
// call, and re-emits each gateway.StreamChunk as an llm.Chunk by pulling
// the first choice's delta content out of the raw SSE data with gjson —
// the same partial-decoding style internal/provider/*/stream.go uses.
func (a *Adapter) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	if a.breaker != nil && !a.breaker.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, a.name)
	}

	messages := make([]gateway.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = gateway.Message{Role: m.Role, Content: toJSONString(m.Content)}
	}
	if len(messages) == 0 && req.Prompt != "" {
		messages = []gateway.Message{{Role: "user", Content: toJSONString(req.Prompt)}}
	}

	greq := &gateway.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		greq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		greq.Temperature = &req.Temperature
	}

	upstream, err := a.inner.ChatCompletionStream(ctx, greq)
	if err != nil {
		if a.breaker != nil {
			a.breaker.RecordError(1)
		}
		return nil, fmt.Errorf("%s: %w", a.name, err)
	}

	out := make(chan llm.Chunk, 16)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Err != nil {
				if a.breaker != nil {
					a.breaker.RecordError(1)
				}
				out <- llm.Chunk{Err: chunk.Err}
				return
			}
			if chunk.Done {
				if a.breaker != nil {
					a.breaker.RecordSuccess()
				}
				out <- llm.Chunk{Done: true}
				return
			}
			if text := deltaContent(chunk.Data); text != "" {
				out <- llm.Chunk{Text: text}
			}
		}
	}()
	return out, nil
}

// deltaContent extracts choices[0].delta.content from an OpenAI-compatible
// SSE data payload, returning "" for chunks that carry no text (role-only
// deltas, keep-alives).
func deltaContent(data []byte) string {
	return gjson.GetBytes(data, "choices.0.delta.content").String()
}

func toJSONString(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return b
}
