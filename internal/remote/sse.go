package remote

import (
	"encoding/json"
	"net/http"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/stream"
)

// Pre-allocated header value slices for SSE responses, following
// internal/server/sse.go's direct-map-assignment style to skip the
// []string{v} alloc Header.Set would otherwise make per response.
var (
	sseContentType  = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
)

// writeSSEHeaders sets the response headers for an SSE stream.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseContentType
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	w.WriteHeader(http.StatusOK)
}

// sseEventName maps a stream.Kind to the SSE event name the local IPC
// surface uses for the same kind (spec.md §4.11: "event names mirror the
// internal stream events").
func sseEventName(k stream.Kind) string {
	switch k {
	case stream.KindToken:
		return horizon.EventToken
	case stream.KindProgress:
		return horizon.EventProgress
	case stream.KindPromptPreview:
		return horizon.EventPromptPreview
	case stream.KindDone:
		return horizon.EventDone
	case stream.KindCancelled:
		return horizon.EventCancelled
	case stream.KindError:
		return horizon.EventError
	default:
		return "unknown"
	}
}

// writeSSEEvent writes one stream.Event as "event: <name>\ndata: <json>\n\n".
func writeSSEEvent(w http.ResponseWriter, ev stream.Event) {
	name := sseEventName(ev.Kind)
	payload := map[string]any{}
	switch ev.Kind {
	case stream.KindToken:
		payload["chat_id"] = ev.ChatID
		payload["data"] = ev.Data
	case stream.KindProgress:
		payload["kind"] = ev.ProgressKind
		payload["message"] = ev.Message
		payload["percent"] = ev.Percent
	case stream.KindPromptPreview:
		payload["text"] = ev.Text
		payload["preview_id"] = ev.PreviewID
	case stream.KindError:
		payload["message"] = ev.ErrorMessage
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	w.Write([]byte("event: " + name + "\ndata: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
