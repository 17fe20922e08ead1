package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/sysstats"
)

const pushInterval = 2 * time.Second

// EventWriter is the narrow slice of *codec.Codec the pusher needs.
type EventWriter interface {
	WriteResponse(horizon.Response) error
}

// Pusher emits unsolicited SYSTEM_STATS events on a 2-second period
// (spec.md §4.7), competing fairly for the frame codec's writer mutex like
// any other emitter. It implements internal/worker.Worker so it runs
// alongside the dispatcher's other background workers.
type Pusher struct {
	w         EventWriter
	collector *sysstats.Collector
	logs      *sysstats.LogRingBuffer
}

// NewPusher returns a Pusher writing through w.
func NewPusher(w EventWriter, collector *sysstats.Collector, logs *sysstats.LogRingBuffer) *Pusher {
	return &Pusher{w: w, collector: collector, logs: logs}
}

// Name identifies this worker for logging.
func (p *Pusher) Name() string { return "telemetry_pusher" }

// Run pushes a SYSTEM_STATS event every 2 seconds until ctx is cancelled.
// A push failure is logged and never stops the loop (spec.md §4.7: "MUST
// continue on handler errors").
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.push()
		}
	}
}

func (p *Pusher) push() {
	snap := p.collector.Collect()
	var logLines []string
	if p.logs != nil {
		logLines = p.logs.Lines()
	}

	resp := horizon.Response{
		ID:     horizon.ReservedTelemetryID,
		Status: horizon.StatusOK,
		Data: map[string]any{
			"stats": snap,
			"logs":  logLines,
		},
	}
	if err := p.w.WriteResponse(resp); err != nil {
		slog.Warn("telemetry pusher: write failed, continuing", "error", err)
	}
}
