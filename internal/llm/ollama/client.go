// Package ollama implements llm.Provider against a local Ollama instance,
// adapted from internal/provider/ollama/client.go: same tuned http.Client
// and dnscache-backed dialer, retargeted from the OpenAI-compatible
// /v1/chat/completions endpoint to Ollama's native /api/chat
// newline-delimited-JSON stream, fed the structured prompt's role-tagged
// messages (system preamble, history, user turn) the same way
// original_source/worker/ipc/dispatcher.py builds messages_for_ollama and
// calls ollama.chat(model=model, messages=messages_for_ollama, stream=True).
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	providerName   = llm.ProviderOllama
	maxLineSize    = 64 * 1024
)

// Client is an llm.Provider backed by Ollama's native /api/chat endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. If baseURL is empty it defaults to
// "http://localhost:11434". If resolver is non-nil, DNS lookups are cached.
func New(baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{baseURL: baseURL, http: &http.Client{Transport: t}}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// StreamChat opens a streaming generation against Ollama's /api/chat,
// sending req.Messages as real role-tagged turns, and forwards each
// ndjson line's message-content fragment as a Chunk. Falls back to a
// single synthesized user turn if the caller didn't build a message
// array (req.Messages empty, req.Prompt set).
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	messages := req.Messages
	if len(messages) == 0 && req.Prompt != "" {
		messages = []horizon.Message{{Role: horizon.RoleUser, Content: req.Prompt}}
	}
	chatMessages := make([]chatMessage, len(messages))
	for i, m := range messages {
		chatMessages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: chatMessages,
		Stream:   true,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	ch := make(chan llm.Chunk, 8)
	go c.readStream(ctx, resp, ch)
	return ch, nil
}

func (c *Client) readStream(ctx context.Context, resp *http.Response, ch chan<- llm.Chunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var gl chatLine
		if err := json.Unmarshal(line, &gl); err != nil {
			continue
		}
		if gl.Error != "" {
			ch <- llm.Chunk{Err: fmt.Errorf("ollama: %s", gl.Error)}
			return
		}

		chunk := llm.Chunk{Text: gl.Message.Content, Done: gl.Done}
		select {
		case ch <- chunk:
		case <-ctx.Done():
			ch <- llm.Chunk{Err: ctx.Err()}
			return
		}
		if gl.Done {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- llm.Chunk{Err: fmt.Errorf("ollama: read stream: %w", err)}
	}
}
