// Package dispatch implements the closed rule registry described in
// spec.md §4.5: a fixed map from command name to handler, a 3-stage
// preflight (guard, payload size, rate limit) run in that exact order, and
// a result type distinguishing a completed value from a lazy event stream.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GabrielHori/horizon-worker/internal/guard"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/ratelimit"
	"github.com/GabrielHori/horizon-worker/internal/stream"
	"github.com/GabrielHori/horizon-worker/internal/telemetry"
	"github.com/GabrielHori/horizon-worker/internal/validate"
)

// Result is the outcome of a handler: either a completed Value or a Stream
// of events to be relayed back through the Stream Pump. A handler returning
// a non-nil Stream MUST leave Value nil, and vice versa.
type Result struct {
	Value  any
	Stream <-chan stream.Event
}

// Handler executes one command. ctx is the dispatcher caller's context,
// passed through unchanged (the request id is in req, not in ctx); it is
// cancelled if the dispatcher's owning process is shutting down.
type Handler func(ctx context.Context, req horizon.Request) (Result, error)

// Registry is the closed command table. It is built once at startup
// (spec.md §4.5: "closed map[string]Handler") and never mutated afterward,
// so concurrent Dispatch calls need no lock around the map itself.
type Registry struct {
	handlers   map[string]Handler
	guard      *guard.Guard
	limiter    *ratelimit.SlidingLimiter
	maxPayload int
	metrics    *telemetry.Metrics
}

// New builds a Registry bound to g (permission guard) and rl (rate
// limiter). handlers is the command table; New does not check it against
// horizon.AllCommands, and no test does either. A command with no entry is
// answered as unknown by Dispatch.
func New(g *guard.Guard, rl *ratelimit.SlidingLimiter, handlers map[string]Handler) *Registry {
	return &Registry{
		handlers:   handlers,
		guard:      g,
		limiter:    rl,
		maxPayload: validate.MaxPayloadSize,
	}
}

// SetMetrics attaches m so every Dispatch call records its per-command
// counters and timing. Nil-safe: a Registry with no metrics attached
// dispatches exactly as before (mirrors internal/telemetry.Pusher's
// nil-safe logs field).
func (r *Registry) SetMetrics(m *telemetry.Metrics) *Registry {
	r.metrics = m
	return r
}

// Dispatch runs the 3-stage preflight for req, then its handler if all
// three stages pass. clientID identifies the caller for rate-limiting
// purposes (spec.md §4.3's "(command, client-id)" key); for the local IPC
// channel this is typically a fixed constant, since the channel has a
// single trusted caller per spec.md §1's "authentication applies only to
// the optional remote HTTP surface".
func (r *Registry) Dispatch(ctx context.Context, req horizon.Request, clientID string) (Result, error) {
	if r.metrics != nil {
		r.metrics.ActiveRequests.Inc()
		defer r.metrics.ActiveRequests.Dec()
		start := time.Now()
		defer func() { r.metrics.RequestDuration.WithLabelValues(req.Cmd).Observe(time.Since(start).Seconds()) }()
	}

	// Stage 1: permission guard. An unknown command is a guard-level deny,
	// not a separate registry-level error (spec.md §4.5).
	allowed, perm := r.guard.Check(req.Cmd, req.Payload)
	if !allowed {
		if r.metrics != nil {
			r.metrics.GuardDenials.WithLabelValues(req.Cmd).Inc()
			r.metrics.RequestsTotal.WithLabelValues(req.Cmd, horizon.StatusError).Inc()
		}
		return Result{}, &Error{Code: horizon.CodePermissionDenied, Message: deniedMessage(req.Cmd, perm)}
	}

	// Stage 2: payload size.
	if err := validate.PayloadSize(req.Payload, r.maxPayload); err != nil {
		if r.metrics != nil {
			r.metrics.RequestsTotal.WithLabelValues(req.Cmd, horizon.StatusError).Inc()
		}
		return Result{}, &Error{Code: horizon.CodePayloadTooLarge, Message: err.Error()}
	}

	// Stage 3: rate limiter, only for commands present in its table (every
	// command is present via the default limit, per spec.md §4.3).
	if ok, retryAfter := r.limiter.Check(req.Cmd, clientID, time.Now()); !ok {
		if r.metrics != nil {
			r.metrics.RateLimitRejects.WithLabelValues(req.Cmd).Inc()
			r.metrics.RequestsTotal.WithLabelValues(req.Cmd, horizon.StatusError).Inc()
		}
		return Result{}, &Error{
			Code:       horizon.CodeRateLimitExceeded,
			Message:    "rate limit exceeded",
			RetryAfter: int64(retryAfter / time.Second),
		}
	}

	handler, ok := r.handlers[req.Cmd]
	if !ok {
		// Should not happen if the handler table is kept in lockstep with
		// the guard tables; treated as an unknown-command deny regardless.
		if r.metrics != nil {
			r.metrics.RequestsTotal.WithLabelValues(req.Cmd, horizon.StatusError).Inc()
		}
		return Result{}, &Error{Code: horizon.CodePermissionDenied, Message: "unknown command"}
	}

	result, err := handler(ctx, req)
	if r.metrics != nil {
		status := horizon.StatusOK
		if err != nil {
			status = horizon.StatusError
		}
		r.metrics.RequestsTotal.WithLabelValues(req.Cmd, status).Inc()
	}
	return result, err
}

func deniedMessage(cmd string, perm horizon.Permission) string {
	if perm == "" {
		return "command not permitted: " + cmd
	}
	return "missing permission " + perm + " for command " + cmd
}

// Error is the dispatcher-level error shape, convertible directly to
// horizon.ErrorEnvelope by the caller that writes the terminal Response.
type Error struct {
	Code       string
	Message    string
	RetryAfter int64
}

func (e *Error) Error() string { return e.Message }

// Envelope converts e into the wire error envelope.
func (e *Error) Envelope() *horizon.ErrorEnvelope {
	return &horizon.ErrorEnvelope{Code: e.Code, Message: e.Message, RetryAfter: e.RetryAfter}
}

// AsError extracts a *Error from err, if it is one.
func AsError(err error) (*Error, bool) {
	de, ok := err.(*Error)
	return de, ok
}

// Marshalable is a convenience check used by handlers that want to return
// an already-encoded payload verbatim.
func Marshalable(v any) bool {
	_, err := json.Marshal(v)
	return err == nil
}
