package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/llm"
)

func TestStreamChatForwardsChunksUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"message":{"content":"hel"},"done":false}` + "\n",
			`{"message":{"content":"lo"},"done":false}` + "\n",
			`{"message":{"content":""},"done":true}` + "\n",
		}
		for _, l := range lines {
			w.Write([]byte(l))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	require.Equal(t, "ollama", c.Name())

	ch, err := c.StreamChat(context.Background(), llm.ChatRequest{Model: "m1", Prompt: "hi"})
	require.NoError(t, err)

	var got []llm.Chunk
	for chunk := range ch {
		got = append(got, chunk)
	}
	require.Len(t, got, 3)
	require.Equal(t, "hel", got[0].Text)
	require.Equal(t, "lo", got[1].Text)
	require.True(t, got[2].Done)
	for _, c := range got {
		require.NoError(t, c.Err)
	}
}

func TestStreamChatSendsRoleTaggedMessages(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(`{"message":{"content":""},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	req := llm.ChatRequest{
		Model: "m1",
		Messages: []horizon.Message{
			{Role: horizon.RoleSystem, Content: "be nice"},
			{Role: horizon.RoleUser, Content: "earlier turn"},
			{Role: horizon.RoleAssistant, Content: "earlier reply"},
			{Role: horizon.RoleUser, Content: "current prompt"},
		},
	}
	ch, err := c.StreamChat(context.Background(), req)
	require.NoError(t, err)
	for range ch {
	}

	require.Len(t, gotBody.Messages, 4)
	require.Equal(t, horizon.RoleSystem, gotBody.Messages[0].Role)
	require.Equal(t, "be nice", gotBody.Messages[0].Content)
	require.Equal(t, horizon.RoleUser, gotBody.Messages[3].Role)
	require.Equal(t, "current prompt", gotBody.Messages[3].Content)
}

func TestStreamChatSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	ch, err := c.StreamChat(context.Background(), llm.ChatRequest{Model: "missing", Prompt: "hi"})
	require.NoError(t, err)

	chunk := <-ch
	require.Error(t, chunk.Err)
	require.Contains(t, chunk.Err.Error(), "model not found")
}

func TestStreamChatNonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.StreamChat(context.Background(), llm.ChatRequest{Model: "m1", Prompt: "hi"})
	require.Error(t, err)
}

func TestStreamChatRespectsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"a"},"done":false}` + "\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, nil)
	ch, err := c.StreamChat(ctx, llm.ChatRequest{Model: "m1", Prompt: "hi"})
	require.NoError(t, err)

	<-ch // first chunk
	cancel()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}
