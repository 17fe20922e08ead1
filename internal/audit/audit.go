// Package audit implements the append-only command audit log: every
// dispatched command is recorded as a line of JSON, batched and flushed
// periodically the way internal/telemetry's Pusher batches SYSTEM_STATS
// pushes. Grounded on
// original_source/worker/services/audit_service.py's AuditEvent shape
// and the teacher's UsageRecorder's channel-buffered worker loop,
// generalized from per-request usage rows to per-request audit rows.
// Never read back by the dispatcher itself (spec.md §1 scopes audit-log
// reading out).
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	flushInterval = 5 * time.Second
	bufferSize    = 256
)

// Event is one append-only audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Cmd       string    `json:"cmd"`
	ClientID  string    `json:"client_id"`
	Outcome   string    `json:"outcome"` // "ok" | "error"
	Detail    string    `json:"detail,omitempty"`
}

// Outcome values an Event carries.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Writer batches Events onto a buffered channel and flushes them as
// JSON-lines to a dated file under dir, appending.
type Writer struct {
	dir    string
	events chan Event
}

// NewWriter returns a Writer appending to dir. dir is created lazily on
// first flush.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, events: make(chan Event, bufferSize)}
}

// Name identifies this worker for logging.
func (w *Writer) Name() string { return "audit_writer" }

// Record enqueues an event for the next flush. Non-blocking: a full
// buffer drops the event and logs a warning rather than stalling the
// dispatch path that called it (spec.md's ambient stack must never slow
// down command handling).
func (w *Writer) Record(ev Event) {
	select {
	case w.events <- ev:
	default:
		slog.Warn("audit writer: buffer full, dropping event", "cmd", ev.Cmd)
	}
}

// Run flushes buffered events to disk every flushInterval and once more
// on shutdown, until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var pending []Event
	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case ev := <-w.events:
					pending = append(pending, ev)
				default:
					break drain
				}
			}
			w.flush(pending)
			return nil
		case ev := <-w.events:
			pending = append(pending, ev)
			if len(pending) >= bufferSize {
				w.flush(pending)
				pending = nil
			}
		case <-ticker.C:
			if len(pending) > 0 {
				w.flush(pending)
				pending = nil
			}
		}
	}
}

func (w *Writer) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		slog.Error("audit writer: create dir", "error", err)
		return
	}
	name := time.Now().Format("2006-01-02") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Error("audit writer: open file", "error", err)
		return
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		bw.Write(b)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		slog.Error("audit writer: flush", "error", err)
	}
}
