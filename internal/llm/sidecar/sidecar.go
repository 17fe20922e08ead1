// Package sidecar supervises the AirLLM child process: newline-delimited
// JSON over its stdin/stdout, modeled as an explicit finite-state machine
// per spec.md §4.9 rather than ad-hoc flags. The stdout reader loop and
// pending-correlation map follow the channel-buffered worker shape of
// internal/worker/usage_recorder.go (teacher's UsageRecorder), adapted from
// a write-only sink to a request/response correlation table.
package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// Status is the sidecar's lifecycle state.
type Status int

const (
	StatusOff Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOff:
		return "OFF"
	case StatusLoading:
		return "LOADING"
	case StatusReady:
		return "READY"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const (
	DefaultLoadTimeout       = 600 * time.Second
	DefaultGenerationTimeout = 180 * time.Second
)

// Process is a running sidecar child process: its stdin/stdout pipes and a
// channel that fires once when it exits. Launcher abstracts os/exec.Cmd so
// tests can substitute in-memory pipes.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Exited <-chan error
	Kill   func() error
}

// Launcher starts the sidecar binary for model.
type Launcher interface {
	Launch(ctx context.Context, model string) (*Process, error)
}

type statusFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Model  string `json:"model"`
	Error  string `json:"error,omitempty"`
}

type generateRequest struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	ID        string `json:"id"`
	OK        bool   `json:"ok"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

// Supervisor drives the sidecar lifecycle and correlates generation
// requests with their responses.
type Supervisor struct {
	launcher      Launcher
	loadTimeout   time.Duration
	genTimeout    time.Duration

	statusMu sync.Mutex
	status   Status
	model    string
	lastErr  string
	proc     *Process

	genMu sync.Mutex // at most one generation in flight (UI protection)

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan generateResponse
}

// New returns a Supervisor in the OFF state.
func New(launcher Launcher) *Supervisor {
	return &Supervisor{
		launcher:    launcher,
		loadTimeout: DefaultLoadTimeout,
		genTimeout:  DefaultGenerationTimeout,
		pending:     make(map[string]chan generateResponse),
	}
}

// WithTimeouts overrides the default load/generation timeouts; used by
// tests to keep them short.
func (s *Supervisor) WithTimeouts(load, gen time.Duration) *Supervisor {
	s.loadTimeout = load
	s.genTimeout = gen
	return s
}

// Status reports the current lifecycle state and active model.
func (s *Supervisor) Status() (Status, string, string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status, s.model, s.lastErr
}

// Enable starts the sidecar for model, disabling any currently running
// instance first (spec.md §4.9 invariant: "enabling a new model disables
// the current sidecar first"). It blocks until the sidecar reports READY or
// ERROR, or until the load timeout elapses.
func (s *Supervisor) Enable(ctx context.Context, model string) error {
	s.Disable()

	s.statusMu.Lock()
	s.status = StatusLoading
	s.model = model
	s.lastErr = ""
	s.statusMu.Unlock()

	proc, err := s.launcher.Launch(ctx, model)
	if err != nil {
		s.statusMu.Lock()
		s.status = StatusError
		s.lastErr = err.Error()
		s.statusMu.Unlock()
		return fmt.Errorf("sidecar: launch: %w", err)
	}
	s.proc = proc

	ready := make(chan statusFrame, 1)
	go s.readLoop(proc, ready)

	select {
	case frame := <-ready:
		s.statusMu.Lock()
		if frame.Status == "READY" {
			s.status = StatusReady
		} else {
			s.status = StatusError
			s.lastErr = frame.Error
		}
		s.statusMu.Unlock()
		if frame.Status != "READY" {
			return fmt.Errorf("sidecar: %s", frame.Error)
		}
		return nil
	case <-time.After(s.loadTimeout):
		s.forceDisable("load timeout exceeded")
		return fmt.Errorf("sidecar: load timeout after %s", s.loadTimeout)
	case <-ctx.Done():
		s.forceDisable("context cancelled during load")
		return ctx.Err()
	}
}

// readLoop consumes stdout until the process exits, dispatching the first
// status frame to ready and every subsequent generate response to its
// pending correlation entry. On exit it fails all still-pending entries.
func (s *Supervisor) readLoop(proc *Process, ready chan<- statusFrame) {
	scanner := bufio.NewScanner(proc.Stdout)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	sentReady := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(line, &probe) != nil {
			continue
		}

		switch probe.Type {
		case "status":
			var frame statusFrame
			if json.Unmarshal(line, &frame) == nil && !sentReady {
				sentReady = true
				ready <- frame
			}
		default:
			var resp generateResponse
			if json.Unmarshal(line, &resp) == nil {
				s.deliver(resp)
			}
		}
	}

	<-proc.Exited
	s.statusMu.Lock()
	s.status = StatusOff
	s.statusMu.Unlock()
	s.failAllPending()
}

func (s *Supervisor) deliver(resp generateResponse) {
	s.pendingMu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (s *Supervisor) failAllPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		ch <- generateResponse{ID: id, OK: false, Error: horizon.ErrSidecarExited.Error()}
		delete(s.pending, id)
	}
}

// Disable stops the sidecar gracefully, if running.
func (s *Supervisor) Disable() {
	s.statusMu.Lock()
	proc := s.proc
	s.proc = nil
	s.status = StatusOff
	s.statusMu.Unlock()

	if proc == nil {
		return
	}
	proc.Stdin.Close()
	select {
	case <-proc.Exited:
	case <-time.After(5 * time.Second):
		if proc.Kill != nil {
			proc.Kill()
		}
	}
}

func (s *Supervisor) forceDisable(reason string) {
	slog.Warn("sidecar: forcing disable", "reason", reason)
	s.Disable()
	s.statusMu.Lock()
	s.status = StatusError
	s.lastErr = reason
	s.statusMu.Unlock()
}

// Generate synchronously requests a completion from the running sidecar.
// Only one generation may be in flight at a time. On timeout the pending
// entry is removed and status is preserved at READY (spec.md §4.9 failure
// semantics); on process exit mid-request the caller observes a single
// AirLLM-exited error.
func (s *Supervisor) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	status, _, _ := s.Status()
	if status != StatusReady {
		return "", horizon.ErrSidecarNotReady
	}

	id := uuid.NewString()
	respCh := make(chan generateResponse, 1)
	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	req := generateRequest{ID: id, Type: "generate", Prompt: prompt, MaxTokens: maxTokens, Temperature: temperature}
	if err := s.writeLine(req); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return "", fmt.Errorf("sidecar: write request: %w", err)
	}

	select {
	case resp := <-respCh:
		if !resp.OK {
			return "", fmt.Errorf("sidecar: %s", resp.Error)
		}
		return resp.Text, nil
	case <-time.After(s.genTimeout):
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return "", horizon.ErrGenerationTimeout
	case <-ctx.Done():
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return "", ctx.Err()
	}
}

func (s *Supervisor) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	proc := s.proc
	if proc == nil {
		return horizon.ErrSidecarNotReady
	}
	if _, err := proc.Stdin.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}
