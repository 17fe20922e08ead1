// Package horizon defines the dependency-root domain types for the Horizon
// worker: the IPC wire shapes, sentinel errors, and the closed command
// vocabulary. This package has no project imports.
package horizon

import (
	"encoding/json"
	"errors"
	"time"
)

// --- IPC wire types ---

// Request is a single inbound frame from the host over stdin.
type Request struct {
	ID      string          `json:"id"`
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a terminal, non-streaming reply to a Request.
type Response struct {
	ID     string         `json:"id"`
	Status string         `json:"status"` // "ok" | "error"
	Data   any            `json:"data,omitempty"`
	Error  *ErrorEnvelope `json:"error,omitempty"`
}

// ErrorEnvelope carries a machine-readable code plus a human message.
type ErrorEnvelope struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// Recognized dispatcher error codes (spec.md §6).
const (
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeCmdErr            = "CMD_ERR"
	CodeLicenseRequired   = "LICENSE_REQUIRED"
	CodeOllamaCLIError    = "OLLAMA_CLI_ERROR"
	CodeModelListError    = "MODEL_LIST_ERROR"
)

// StatusOK / StatusError are the two terminal Response.Status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// StreamEvent is a single frame belonging to an ongoing streaming command.
type StreamEvent struct {
	ID     string `json:"id"`
	Event  string `json:"event"`
	ChatID string `json:"chat_id,omitempty"`

	Data string `json:"data,omitempty"`

	Message string `json:"message,omitempty"`

	Kind    string  `json:"kind,omitempty"`
	Percent float64 `json:"percent,omitempty"`

	Text       string `json:"text,omitempty"`
	PreviewID  string `json:"preview_id,omitempty"`
	Structured any    `json:"structured,omitempty"`
}

// Stream event kinds (spec.md §3, §9).
const (
	EventToken         = "token"
	EventProgress      = "progress"
	EventPromptPreview = "prompt_preview"
	EventDone          = "done"
	EventCancelled     = "cancelled"
	EventError         = "error"
)

// ReservedTelemetryID is the fixed id used for unsolicited telemetry events.
const ReservedTelemetryID = "SYSTEM_STATS"

// --- Conversations ---

// Role values for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the full persisted shape of a chat.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- Sentinel errors ---

var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrValidation         = errors.New("validation failed")
	ErrNoMasterKey        = errors.New("master key not set")
	ErrWouldDowngrade     = errors.New("refusing to write plaintext over an encrypted record")
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrSidecarNotReady    = errors.New("sidecar not ready")
	ErrSidecarBusy        = errors.New("sidecar generation already in flight")
	ErrSidecarExited      = errors.New("AirLLM process exited")
	ErrGenerationTimeout  = errors.New("generation timeout")
	ErrWebSearchDisabled  = errors.New("internet access disabled in settings")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrLicenseRequired    = errors.New("license required")
)

// --- Permission labels ---

// Permission is a symbolic capability label granted/revoked by the host.
type Permission = string

const (
	PermRepoAnalyze    Permission = "RepoAnalyze"
	PermMemoryAccess   Permission = "MemoryAccess"
	PermRemoteAccess   Permission = "RemoteAccess"
	PermCommandExecute Permission = "CommandExecute"
)

// --- Gate (license/feature gating collaborator, external per spec.md §9) ---

// Gate reports whether a feature is allowed under the current plan.
type Gate interface {
	Allowed(feature string) (allowed bool, plan string)
}

// AlwaysAllowedGate is a permissive stub Gate used when no real licensing
// backend is wired. The real gate is an external collaborator (spec.md §9).
type AlwaysAllowedGate struct{}

// Allowed always reports true with the "unlicensed" plan name.
func (AlwaysAllowedGate) Allowed(string) (bool, string) { return true, "unlicensed" }
