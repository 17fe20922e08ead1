// Package remote implements the worker's tunneled HTTP surface: a
// bearer-authenticated, IP-allowlisted, per-IP rate-limited chi server
// (server.go), its token issuance/validation (token.go) and IP allowlist
// (allowlist.go), and the cloudflared tunnel binary supervisor (tunnel.go)
// that exposes it publicly. Grounded on internal/server/server.go,
// middleware.go and sse.go (security headers, status-writer pool, SSE
// helpers, kept close to verbatim) and internal/app/keymanager.go (token
// generation shape), re-themed from the teacher's multi-tenant API-key
// auth to the single bearer token spec.md §4.11 describes for the
// desktop's remote-access surface.
package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GabrielHori/horizon-worker/internal/convstore"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/modelsvc"
	"github.com/GabrielHori/horizon-worker/internal/ratelimit"
	"github.com/GabrielHori/horizon-worker/internal/stream"
)

// maxBodyBytes bounds request bodies accepted by the chat endpoints.
const maxBodyBytes = 1 << 20

// ModelListFunc lists locally available models for the /models endpoint;
// typically a closure over modelsvc.List bound to modelsvc.ExecRunner{}.
type ModelListFunc func(ctx context.Context) ([]modelsvc.Model, error)

// ChatHandler drives the chat pipeline, returning a stream.Event channel
// exactly like internal/llm.Handler does for the local IPC surface.
type ChatHandler interface {
	Handle(ctx context.Context, payload json.RawMessage) (<-chan stream.Event, error)
}

// Deps wires every collaborator the remote HTTP surface needs. Convos is
// the concrete conversation store rather than an interface: its List and
// GetMessages methods are exactly what the endpoints need, and remote has
// no reason to abstract over a second implementation.
type Deps struct {
	Tokens      *TokenStore
	Allowlist   *Allowlist
	RateLimiter *ratelimit.SlidingLimiter // keyed by client IP, not command
	Convos      *convstore.Store
	Models      ModelListFunc
	Chat        ChatHandler
	PerIPLimit  int // requests per minute per IP; 0 uses ratelimit.DefaultLimit
}

// New builds the chi-routed HTTP handler. /health is public; every other
// route requires a valid bearer token, passes the IP allowlist, and is
// subject to the per-IP sliding-window limiter.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}
	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.checkAllowlist)
		r.Use(s.rateLimit)

		r.Get("/status", s.handleStatus)
		r.Get("/models", s.handleModels)
		r.Get("/conversations", s.handleConversations)
		r.Get("/conversations/{id}/messages", s.handleMessages)
		r.Post("/chat", s.handleChat)
		r.Get("/chat/stream", s.handleChatStream)
	})

	return r
}

type server struct {
	deps Deps
}

// --- middleware ---

var (
	nosniffVal = []string{"nosniff"}
	denyVal    = []string{"DENY"}
	noStoreVal = []string{"no-store"}
)

// securityHeaders sets the strict defense-in-depth headers spec.md §4.11
// requires on every response: no-sniff, frame-deny, no-store.
func (s *server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h["X-Content-Type-Options"] = nosniffVal
		h["X-Frame-Options"] = denyVal
		h["Cache-Control"] = noStoreVal
		next.ServeHTTP(w, r)
	})
}

// cors reflects the request's Origin verbatim when present, matching
// spec.md §4.11's "permissive CORS only for the origin present" -- no
// wildcard, so credentialed cross-origin requests from the one origin that
// asked still work.
func (s *server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			h := w.Header()
			h["Access-Control-Allow-Origin"] = []string{origin}
			h["Access-Control-Allow-Headers"] = []string{"Authorization, Content-Type"}
			h["Access-Control-Allow-Methods"] = []string{"GET, POST, OPTIONS"}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate requires Authorization: Bearer <token> where sha256(token)
// matches the stored hash and the token has not expired.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || s.deps.Tokens == nil || !s.deps.Tokens.Validate(token) {
			writeJSON(w, http.StatusUnauthorized, errMsg("invalid or expired token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAllowlist enforces the per-tunnel IP allowlist.
func (s *server) checkAllowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if s.deps.Allowlist != nil && !s.deps.Allowlist.Allowed(ip) {
			writeJSON(w, http.StatusForbidden, errMsg("ip not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

const rateLimitCommand = "remote_http"

// rateLimit enforces a per-IP sliding-window limit, defaulting to 60/min
// (spec.md §4.11) unless Deps.PerIPLimit overrides it.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if s.deps.PerIPLimit > 0 {
			s.deps.RateLimiter.SetLimit(rateLimitCommand, s.deps.PerIPLimit)
		}
		ip := clientIP(r)
		allowed, retryAfter := s.deps.RateLimiter.Check(rateLimitCommand, ip, time.Now())
		if !allowed {
			w.Header()["Retry-After"] = []string{strconv.Itoa(int(retryAfter.Seconds()) + 1)}
			writeJSON(w, http.StatusTooManyRequests, errMsg("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}

// --- handlers ---

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Models == nil {
		writeJSON(w, http.StatusOK, map[string]any{"models": []modelsvc.Model{}})
		return
	}
	models, err := s.deps.Models(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errMsg(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Convos == nil {
		writeJSON(w, http.StatusOK, map[string]any{"conversations": []convstore.Summary{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": s.deps.Convos.List()})
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Convos == nil {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []horizon.Message{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.deps.Convos.GetMessages(id)})
}

// handleChat runs the full chat pipeline and blocks until completion,
// returning the concatenated assistant text (spec.md §4.11's "chat
// (blocking)" endpoint).
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	events, ok := s.startChat(w, r)
	if !ok {
		return
	}
	var text string
	for ev := range events {
		switch ev.Kind {
		case stream.KindToken:
			text += ev.Data
		case stream.KindError:
			writeJSON(w, http.StatusBadGateway, errMsg(ev.ErrorMessage))
			return
		case stream.KindCancelled:
			writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// handleChatStream runs the chat pipeline and relays every stream.Event as
// an SSE event, event names mirroring the internal stream events
// (spec.md §4.11).
func (s *server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	events, ok := s.startChat(w, r)
	if !ok {
		return
	}
	writeSSEHeaders(w)
	flusher, _ := w.(http.Flusher)
	for ev := range events {
		writeSSEEvent(w, ev)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// startChat decodes the request body and starts the chat pipeline. On
// failure it has already written the error response and returns ok=false.
func (s *server) startChat(w http.ResponseWriter, r *http.Request) (<-chan stream.Event, bool) {
	if s.deps.Chat == nil {
		writeJSON(w, http.StatusServiceUnavailable, errMsg("chat not available"))
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errMsg("invalid request body"))
		return nil, false
	}
	events, err := s.deps.Chat.Handle(r.Context(), json.RawMessage(body))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errMsg(err.Error()))
		return nil, false
	}
	return events, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errMsg(msg string) map[string]string { return map[string]string{"error": msg} }
