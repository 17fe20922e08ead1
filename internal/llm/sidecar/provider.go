package sidecar

import (
	"context"

	"github.com/GabrielHori/horizon-worker/internal/llm"
)

const chunkSize = 80

// Provider adapts a Supervisor to llm.Provider: it synchronously requests
// one full generation, then chunks the returned text into ~80-character
// pieces emitted as a sequence of Chunks (spec.md §4.8 step 6), so the chat
// handler does not need to distinguish the sidecar from a natively
// streaming provider.
type Provider struct {
	sup *Supervisor
}

// NewProvider wraps sup as an llm.Provider.
func NewProvider(sup *Supervisor) *Provider {
	return &Provider{sup: sup}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return llm.ProviderAirLLM }

// StreamChat requests one generation and replays it as fixed-size chunks.
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 8)
	go func() {
		defer close(ch)
		text, err := p.sup.Generate(ctx, req.Prompt, req.MaxTokens, req.Temperature)
		if err != nil {
			ch <- llm.Chunk{Err: err}
			return
		}
		r := []rune(text)
		for i := 0; i < len(r); i += chunkSize {
			end := i + chunkSize
			if end > len(r) {
				end = len(r)
			}
			select {
			case ch <- llm.Chunk{Text: string(r[i:end])}:
			case <-ctx.Done():
				ch <- llm.Chunk{Err: ctx.Err()}
				return
			}
		}
		ch <- llm.Chunk{Done: true}
	}()
	return ch, nil
}
