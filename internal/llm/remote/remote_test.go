package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gateway "github.com/GabrielHori/horizon-worker/internal"
	"github.com/GabrielHori/horizon-worker/internal/circuitbreaker"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/llm"
)

type fakeGatewayProvider struct {
	chunks []gateway.StreamChunk
	err    error
	gotReq *gateway.ChatRequest
}

func (f *fakeGatewayProvider) Name() string { return "fake" }

func (f *fakeGatewayProvider) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	return nil, errors.New("unused")
}

func (f *fakeGatewayProvider) ChatCompletionStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan gateway.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeGatewayProvider) Embeddings(ctx context.Context, req *gateway.EmbeddingRequest) (*gateway.EmbeddingResponse, error) {
	return nil, errors.New("unused")
}

func (f *fakeGatewayProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeGatewayProvider) HealthCheck(ctx context.Context) error { return nil }

func collect(t *testing.T, ch <-chan llm.Chunk) []llm.Chunk {
	t.Helper()
	var out []llm.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestAdapterExtractsDeltaContent(t *testing.T) {
	inner := &fakeGatewayProvider{chunks: []gateway.StreamChunk{
		{Data: []byte(`{"choices":[{"delta":{"content":"hel"}}]}`)},
		{Data: []byte(`{"choices":[{"delta":{"content":"lo"}}]}`)},
		{Done: true},
	}}
	a := NewAdapter("anthropic", inner, nil)

	ch, err := a.StreamChat(context.Background(), llm.ChatRequest{Model: "claude", Prompt: "hi"})
	require.NoError(t, err)

	got := collect(t, ch)
	require.Len(t, got, 3)
	require.Equal(t, "hel", got[0].Text)
	require.Equal(t, "lo", got[1].Text)
	require.True(t, got[2].Done)
}

func TestAdapterForwardsRoleTaggedMessages(t *testing.T) {
	inner := &fakeGatewayProvider{chunks: []gateway.StreamChunk{{Done: true}}}
	a := NewAdapter("anthropic", inner, nil)

	req := llm.ChatRequest{
		Model: "claude",
		Messages: []horizon.Message{
			{Role: horizon.RoleSystem, Content: "be nice"},
			{Role: horizon.RoleUser, Content: "earlier turn"},
			{Role: horizon.RoleAssistant, Content: "earlier reply"},
			{Role: horizon.RoleUser, Content: "current prompt"},
		},
	}
	_, err := a.StreamChat(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, inner.gotReq)
	require.Len(t, inner.gotReq.Messages, 4)
	require.Equal(t, horizon.RoleSystem, inner.gotReq.Messages[0].Role)
	require.Equal(t, `"be nice"`, string(inner.gotReq.Messages[0].Content))
	require.Equal(t, horizon.RoleUser, inner.gotReq.Messages[3].Role)
	require.Equal(t, `"current prompt"`, string(inner.gotReq.Messages[3].Content))
}

func TestAdapterFallsBackToFlatPromptWhenNoMessages(t *testing.T) {
	inner := &fakeGatewayProvider{chunks: []gateway.StreamChunk{{Done: true}}}
	a := NewAdapter("anthropic", inner, nil)

	_, err := a.StreamChat(context.Background(), llm.ChatRequest{Model: "claude", Prompt: "hi"})
	require.NoError(t, err)

	require.NotNil(t, inner.gotReq)
	require.Len(t, inner.gotReq.Messages, 1)
	require.Equal(t, "user", inner.gotReq.Messages[0].Role)
	require.Equal(t, `"hi"`, string(inner.gotReq.Messages[0].Content))
}

func TestAdapterSurfacesStreamError(t *testing.T) {
	inner := &fakeGatewayProvider{chunks: []gateway.StreamChunk{
		{Err: errors.New("upstream reset")},
	}}
	a := NewAdapter("anthropic", inner, nil)

	ch, err := a.StreamChat(context.Background(), llm.ChatRequest{Model: "claude", Prompt: "hi"})
	require.NoError(t, err)

	got := collect(t, ch)
	require.Len(t, got, 1)
	require.Error(t, got[0].Err)
}

func TestAdapterRefusesWhenCircuitOpen(t *testing.T) {
	breaker := circuitbreaker.NewBreaker(circuitbreaker.Config{
		ErrorThreshold: 0.5, WindowSeconds: 60, OpenTimeout: time.Minute, MinSamples: 1,
	})
	breaker.RecordError(1)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	a := NewAdapter("anthropic", &fakeGatewayProvider{}, breaker)
	_, err := a.StreamChat(context.Background(), llm.ChatRequest{Model: "claude", Prompt: "hi"})
	require.ErrorIs(t, err, ErrCircuitOpen)
}
