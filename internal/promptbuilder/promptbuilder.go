// Package promptbuilder assembles the structured prompt sent to a chat
// model: an ordered list of typed components ending in the current user
// turn, rendered both as a message array and as a flat string for preview.
// Grounded on spec.md §4.12; no direct teacher analogue exists, so this
// follows the teacher's general style of small typed value objects (see
// internal/gateway.go's Message/ChatRequest) adapted to the worker's needs.
package promptbuilder

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// Component kinds, in the fixed rendering order spec.md §4.12 specifies.
const (
	KindSystem  = "system"
	KindMemory  = "memory"
	KindContext = "context"
	KindHistory = "history"
	KindUser    = "user"
)

// Context block subtypes.
const (
	ContextRepository = "repository"
	ContextWeb        = "web"
	ContextFile       = "file"
)

// Component is one typed piece of the structured prompt.
type Component struct {
	Kind    string `json:"kind"`
	SubKind string `json:"sub_kind,omitempty"` // context blocks only
	Role    string `json:"role,omitempty"`     // history entries only
	Text    string `json:"text"`
}

// Prompt is the fully assembled, versioned structured prompt.
type Prompt struct {
	ID         string      `json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	Components []Component `json:"components"`
}

// Messages renders the prompt as a message-array suitable for a chat model:
// one message per component, history entries keeping their original role,
// everything else flattened to "system" except the trailing user turn.
func (p Prompt) Messages() []horizon.Message {
	msgs := make([]horizon.Message, 0, len(p.Components))
	for _, c := range p.Components {
		role := horizon.RoleSystem
		switch c.Kind {
		case KindHistory:
			role = c.Role
		case KindUser:
			role = horizon.RoleUser
		}
		msgs = append(msgs, horizon.Message{Role: role, Content: c.Text})
	}
	return msgs
}

// FlatString renders the prompt as a single string for UI preview.
func (p Prompt) FlatString() string {
	var b strings.Builder
	for i, c := range p.Components {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// Meta is the logging-safe summary of a built prompt: component types and
// sizes, never content (spec.md §4.12: "only metadata ... is logged").
type Meta struct {
	ID         string          `json:"id"`
	ComponentN int             `json:"component_count"`
	Sizes      map[string]int  `json:"sizes_by_kind"`
}

// Describe returns the logging-safe metadata for p.
func (p Prompt) Describe() Meta {
	sizes := make(map[string]int)
	for _, c := range p.Components {
		sizes[c.Kind] += len(c.Text)
	}
	return Meta{ID: p.ID, ComponentN: len(p.Components), Sizes: sizes}
}

// Builder assembles a Prompt from its typed pieces in spec order.
type Builder struct {
	system  string
	memory  map[string]string
	context []Component
	history []horizon.Message
	user    string
}

// New starts a builder with the mandatory system preamble.
func New(systemPreamble string) *Builder {
	return &Builder{system: systemPreamble}
}

// WithMemory attaches resolved memory key:value pairs, rendered as one
// "key: value" line per entry in the memory component.
func (b *Builder) WithMemory(entries map[string]string) *Builder {
	b.memory = entries
	return b
}

// WithRepositoryContext attaches a repository context block.
func (b *Builder) WithRepositoryContext(summary string) *Builder {
	if summary == "" {
		return b
	}
	b.context = append(b.context, Component{Kind: KindContext, SubKind: ContextRepository, Text: summary})
	return b
}

// WithWebContext attaches a web-search context block.
func (b *Builder) WithWebContext(results string) *Builder {
	if results == "" {
		return b
	}
	b.context = append(b.context, Component{Kind: KindContext, SubKind: ContextWeb, Text: results})
	return b
}

// WithFiles attaches file-bundle context blocks, each rendered as
// "=== path ===\n<content>".
func (b *Builder) WithFiles(files map[string]string) *Builder {
	for path, content := range files {
		b.context = append(b.context, Component{
			Kind:    KindContext,
			SubKind: ContextFile,
			Text:    "=== " + path + " ===\n" + content,
		})
	}
	return b
}

// WithHistory attaches the prior conversation turns, oldest first.
func (b *Builder) WithHistory(messages []horizon.Message) *Builder {
	b.history = messages
	return b
}

// TokenCounter estimates the token cost of a piece of text for a given
// model, satisfied by tokencount.Counter's CountText.
type TokenCounter interface {
	CountText(model string, text string) int
}

// LimitHistoryTokens drops the oldest history turns, one at a time, until
// the remaining turns fit within maxTokens as estimated by counter. A
// single conversation can outgrow a model's context window long before it
// outgrows spec.md's max_payload_size limit, so this runs independently of
// internal/validate's byte-size check.
func (b *Builder) LimitHistoryTokens(counter TokenCounter, model string, maxTokens int) *Builder {
	if counter == nil || maxTokens <= 0 {
		return b
	}
	total := 0
	for _, m := range b.history {
		total += counter.CountText(model, m.Content)
	}
	for total > maxTokens && len(b.history) > 0 {
		total -= counter.CountText(model, b.history[0].Content)
		b.history = b.history[1:]
	}
	return b
}

// WithUserTurn sets the current user turn, the final component.
func (b *Builder) WithUserTurn(text string) *Builder {
	b.user = text
	return b
}

// Build renders the accumulated components into a Prompt, in the fixed
// order: system, memory, context (repository, web, files), history,
// current user turn.
func (b *Builder) Build() Prompt {
	var comps []Component
	comps = append(comps, Component{Kind: KindSystem, Text: b.system})

	if len(b.memory) > 0 {
		keys := make([]string, 0, len(b.memory))
		for k := range b.memory {
			keys = append(keys, k)
		}
		sortStrings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, k+": "+b.memory[k])
		}
		comps = append(comps, Component{Kind: KindMemory, Text: strings.Join(lines, "\n")})
	}

	comps = append(comps, b.context...)

	for _, m := range b.history {
		comps = append(comps, Component{Kind: KindHistory, Role: m.Role, Text: m.Content})
	}

	comps = append(comps, Component{Kind: KindUser, Text: b.user})

	return Prompt{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now(),
		Components: comps,
	}
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}
