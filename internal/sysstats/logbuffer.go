package sysstats

import (
	"context"
	"log/slog"
	"sync"
)

// LogRingBuffer is a bounded ring of the most recent formatted log lines,
// fed by a slog.Handler tee (spec.md §4.7: "a bounded ring buffer of the
// last 100 log lines"), and read out by the SYSTEM_STATS pusher.
type LogRingBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
	next  int
	full  bool
}

// NewLogRingBuffer returns a ring buffer holding up to capacity lines.
func NewLogRingBuffer(capacity int) *LogRingBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &LogRingBuffer{lines: make([]string, capacity), cap: capacity}
}

func (b *LogRingBuffer) push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % b.cap
	if b.next == 0 {
		b.full = true
	}
}

// Lines returns the buffered lines in chronological order.
func (b *LogRingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]string, b.next)
		copy(out, b.lines[:b.next])
		return out
	}
	out := make([]string, b.cap)
	copy(out, b.lines[b.next:])
	copy(out[b.cap-b.next:], b.lines[:b.next])
	return out
}

// TeeHandler wraps an inner slog.Handler, pushing a flattened rendering of
// every record into a LogRingBuffer as a side effect of handling it.
type TeeHandler struct {
	inner slog.Handler
	ring  *LogRingBuffer
}

// NewTeeHandler returns a slog.Handler that forwards to inner and also
// records each line into ring.
func NewTeeHandler(inner slog.Handler, ring *LogRingBuffer) *TeeHandler {
	return &TeeHandler{inner: inner, ring: ring}
}

func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	h.ring.push(renderLine(r))
	return h.inner.Handle(ctx, r)
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TeeHandler{inner: h.inner.WithAttrs(attrs), ring: h.ring}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	return &TeeHandler{inner: h.inner.WithGroup(name), ring: h.ring}
}

func renderLine(r slog.Record) string {
	line := r.Time.Format("15:04:05.000") + " " + r.Level.String() + " " + r.Message
	r.Attrs(func(a slog.Attr) bool {
		line += " " + a.Key + "=" + a.Value.String()
		return true
	})
	return line
}
