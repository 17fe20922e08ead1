package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/telemetry"
)

// Writer is the subset of *codec.Codec the pump needs; kept as a narrow
// interface so tests don't need a full codec.
type Writer interface {
	WriteEvent(horizon.StreamEvent) error
}

// Pump relays events from a streaming handler's channel to w, tagging every
// frame with the originating request id (spec.md §4.6).
type Pump struct {
	w       Writer
	metrics *telemetry.Metrics
}

// New returns a Pump writing through w.
func New(w Writer) *Pump {
	return &Pump{w: w}
}

// SetMetrics attaches m so every Run call records active-stream gauges,
// per-command stream duration, and per-event counters. Nil-safe: a Pump
// with no metrics attached runs exactly as before.
func (p *Pump) SetMetrics(m *telemetry.Metrics) *Pump {
	p.metrics = m
	return p
}

// Run drains events until it sees a terminal event or the channel closes,
// writing each one through the codec. cmd labels this stream's metrics.
// If events closes without a terminal event (a programming error in the
// handler, not a runtime condition), Run synthesizes an Error event so the
// caller still sees exactly one terminus, per spec.md's "every stream
// ends with exactly one of {done, cancelled, error}".
func (p *Pump) Run(ctx context.Context, reqID, cmd string, events <-chan Event) {
	if p.metrics != nil {
		p.metrics.ActiveStreams.Inc()
		defer p.metrics.ActiveStreams.Dec()
		start := time.Now()
		defer func() { p.metrics.StreamDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds()) }()
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.write(reqID, Err("stream closed without a terminal event"))
				p.count(cmd, KindError)
				return
			}
			if err := p.write(reqID, ev); err != nil {
				slog.Warn("stream pump: write failed, abandoning stream", "req_id", reqID, "error", err)
				return
			}
			p.count(cmd, ev.Kind)
			if ev.IsTerminal() {
				return
			}
		case <-ctx.Done():
			p.write(reqID, Err(ctx.Err().Error()))
			p.count(cmd, KindError)
			return
		}
	}
}

func (p *Pump) count(cmd string, kind Kind) {
	if p.metrics == nil {
		return
	}
	p.metrics.StreamEvents.WithLabelValues(cmd, kindName(kind)).Inc()
}

func (p *Pump) write(reqID string, ev Event) error {
	wire := horizon.StreamEvent{ID: reqID, Event: kindName(ev.Kind)}
	switch ev.Kind {
	case KindToken:
		wire.Data = ev.Data
		wire.ChatID = ev.ChatID
	case KindProgress:
		wire.Kind = ev.ProgressKind
		wire.Message = ev.Message
		wire.Percent = ev.Percent
	case KindPromptPreview:
		wire.Text = ev.Text
		wire.PreviewID = ev.PreviewID
		wire.Structured = ev.Structured
	case KindError:
		wire.Message = ev.ErrorMessage
	case KindCancelled:
		wire.ChatID = ev.ChatID
	}
	return p.w.WriteEvent(wire)
}

func kindName(k Kind) string {
	switch k {
	case KindToken:
		return horizon.EventToken
	case KindProgress:
		return horizon.EventProgress
	case KindPromptPreview:
		return horizon.EventPromptPreview
	case KindDone:
		return horizon.EventDone
	case KindCancelled:
		return horizon.EventCancelled
	case KindError:
		return horizon.EventError
	default:
		return horizon.EventError
	}
}
