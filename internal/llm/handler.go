package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GabrielHori/horizon-worker/internal/convstore"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/promptbuilder"
	"github.com/GabrielHori/horizon-worker/internal/stream"
	"github.com/GabrielHori/horizon-worker/internal/tokencount"
)

const (
	minWebResults     = 1
	maxWebResults     = 10
	defaultWebResults = 5

	// maxHistoryTokens bounds how much prior conversation the prompt
	// builder folds in, independent of the per-reply max_tokens the
	// caller requests for the model's own generation budget.
	maxHistoryTokens = 6000
)

// ChatInput is the decoded payload of a `chat` command (spec.md §4.8).
type ChatInput struct {
	Model         string            `json:"model"`
	Provider      string            `json:"provider"`
	Prompt        string            `json:"prompt"`
	ChatID        string            `json:"chat_id,omitempty"`
	ProjectID     string            `json:"project_id,omitempty"`
	Language      string            `json:"language"`
	MaxTokens     int               `json:"max_tokens"`
	Temperature   float64           `json:"temperature"`
	ContextFiles  map[string]string `json:"context_files,omitempty"`
	MemoryKeys    []string          `json:"memory_keys,omitempty"`
	RepoContext   string            `json:"repo_context,omitempty"`
	WebQuery      string            `json:"web_query,omitempty"`
	WebMaxResults int               `json:"web_max_results,omitempty"`
}

// ConversationStore is the narrow persistence surface the chat handler
// needs; *convstore.Store satisfies it directly.
type ConversationStore interface {
	GetMessages(chatID string) []horizon.Message
	SaveMessage(p convstore.SaveMessageParams) (string, error)
}

// MemoryResolver resolves the union of explicit and project-scoped memory
// keys into key:value pairs (spec.md §4.8 step 3).
type MemoryResolver interface {
	Resolve(projectID string, keys []string) map[string]string
}

// WebSearcher performs a web search and renders the results as a single
// context string, used only when the caller requested it and internet
// access is enabled in settings.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) (string, error)
}

// Settings is the narrow settings surface the chat handler consults.
type Settings interface {
	InternetEnabled() bool
}

// Handler implements the 8-step chat pipeline of spec.md §4.8, dispatching
// to a local provider (ollama or airllm) and relaying the result as a
// stream.Event sequence.
type Handler struct {
	Convos    ConversationStore
	Memory    MemoryResolver
	Web       WebSearcher
	Settings  Settings
	Providers map[string]Provider
	Cancel    *stream.CancelFlag

	tokens tokencount.Counter
}

// systemPreamble returns the language-dependent safety preamble.
func systemPreamble(language string) string {
	if language == "" {
		language = "en"
	}
	return fmt.Sprintf("You are a careful, honest assistant. Respond in %s. Do not fabricate facts.", language)
}

// Handle decodes payload and returns an event channel fed by a dedicated
// goroutine implementing spec.md §4.8's 8 steps. Decode errors are
// returned immediately rather than surfaced mid-stream.
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) (<-chan stream.Event, error) {
	var in ChatInput
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", horizon.ErrValidation, err)
		}
	}
	if in.Provider == "" {
		in.Provider = ProviderOllama
	}
	provider, ok := h.Providers[in.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", horizon.ErrValidation, in.Provider)
	}

	events := make(chan stream.Event, 16)
	go h.run(ctx, in, provider, events)
	return events, nil
}

func (h *Handler) run(ctx context.Context, in ChatInput, provider Provider, events chan<- stream.Event) {
	defer close(events)

	// Step 1: persist the user message, obtaining active_chat_id.
	chatID, err := h.Convos.SaveMessage(convstore.SaveMessageParams{
		ChatID:    in.ChatID,
		Role:      horizon.RoleUser,
		Content:   in.Prompt,
		Model:     in.Model,
		ProjectID: in.ProjectID,
	})
	if err != nil {
		events <- stream.Err(err.Error())
		return
	}
	release := h.Cancel.Begin(chatID)
	defer release()

	// Step 2: load prior messages.
	history := h.Convos.GetMessages(chatID)
	if len(history) > 0 {
		history = history[:len(history)-1] // drop the turn just appended
	}

	// Step 3: resolve memory.
	var memoryEntries map[string]string
	if h.Memory != nil {
		memoryEntries = h.Memory.Resolve(in.ProjectID, in.MemoryKeys)
	}

	// Step 4: optional web search.
	var webContext string
	if in.WebQuery != "" {
		if h.Settings == nil || !h.Settings.InternetEnabled() {
			events <- stream.Err(horizon.ErrWebSearchDisabled.Error())
			return
		}
		n := in.WebMaxResults
		if n < minWebResults || n > maxWebResults {
			n = defaultWebResults
		}
		var err error
		webContext, err = h.Web.Search(ctx, in.WebQuery, n)
		if err != nil {
			events <- stream.Err(err.Error())
			return
		}
	}

	// Step 5: build the structured prompt, emit its preview.
	builder := promptbuilder.New(systemPreamble(in.Language)).
		WithMemory(memoryEntries).
		WithRepositoryContext(in.RepoContext).
		WithWebContext(webContext).
		WithFiles(in.ContextFiles).
		WithHistory(history).
		LimitHistoryTokens(&h.tokens, in.Model, maxHistoryTokens).
		WithUserTurn(in.Prompt)
	prompt := builder.Build()
	events <- stream.PromptPreview(prompt.FlatString(), prompt.ID, prompt)

	// Step 6: dispatch to the provider, forwarding tokens and honoring
	// cancellation at each token boundary.
	chunks, err := provider.StreamChat(ctx, ChatRequest{
		Model:       in.Model,
		Messages:    prompt.Messages(),
		Prompt:      prompt.FlatString(),
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		events <- stream.Err(err.Error())
		return
	}

	var assistantText string
	for chunk := range chunks {
		if h.Cancel.Cancelled() {
			events <- stream.Cancelled()
			return
		}
		if chunk.Err != nil {
			events <- stream.Err(chunk.Err.Error())
			return
		}
		if chunk.Text != "" {
			assistantText += chunk.Text
			events <- stream.Token(chatID, chunk.Text)
		}
		if chunk.Done {
			break
		}
	}

	if h.Cancel.Cancelled() {
		events <- stream.Cancelled()
		return
	}

	// Step 7: persist the assistant message, emit done.
	if _, err := h.Convos.SaveMessage(convstore.SaveMessageParams{
		ChatID:    chatID,
		Role:      horizon.RoleAssistant,
		Content:   assistantText,
		Model:     in.Model,
		ProjectID: in.ProjectID,
	}); err != nil {
		events <- stream.Err(err.Error())
		return
	}
	events <- stream.Done()
}
