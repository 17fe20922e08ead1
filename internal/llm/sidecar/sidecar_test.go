package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSidecar drives one end of an in-memory pipe pair as the scripted
// child process: it reads generate requests written by the Supervisor and
// replies according to a caller-supplied handler.
type fakeSidecar struct {
	toSupervisor   *io.PipeWriter // sidecar's stdout -> supervisor reads
	fromSupervisor *io.PipeReader // supervisor's stdin -> sidecar reads
	exited         chan error
}

func newFakeLauncher(t *testing.T, onRequest func(id string, req map[string]any) (ok bool, text, errMsg string)) *fakeLauncher {
	t.Helper()
	return &fakeLauncher{t: t, onRequest: onRequest}
}

type fakeLauncher struct {
	t         *testing.T
	onRequest func(id string, req map[string]any) (ok bool, text, errMsg string)
	launched  *fakeSidecar
	failLoad  bool
}

func (f *fakeLauncher) Launch(ctx context.Context, model string) (*Process, error) {
	stdinR, stdinW := io.Pipe()  // supervisor writes to stdinW, fake reads stdinR
	stdoutR, stdoutW := io.Pipe() // fake writes to stdoutW, supervisor reads stdoutR

	exited := make(chan error, 1)
	f.launched = &fakeSidecar{toSupervisor: stdoutW, fromSupervisor: stdinR, exited: exited}

	status := "READY"
	if f.failLoad {
		status = "ERROR"
	}
	frame, _ := json.Marshal(map[string]any{"type": "status", "status": status, "model": model, "error": ""})
	go stdoutW.Write(append(frame, '\n'))

	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req map[string]any
			if json.Unmarshal(scanner.Bytes(), &req) != nil {
				continue
			}
			id, _ := req["id"].(string)
			if f.onRequest == nil {
				continue
			}
			ok, text, errMsg := f.onRequest(id, req)
			resp := map[string]any{"id": id, "ok": ok}
			if ok {
				resp["text"] = text
			} else {
				resp["error"] = errMsg
			}
			b, _ := json.Marshal(resp)
			stdoutW.Write(append(b, '\n'))
		}
	}()

	return &Process{
		Stdin:  stdinW,
		Stdout: stdoutR,
		Exited: exited,
		Kill:   func() error { exited <- nil; return nil },
	}, nil
}

func (f *fakeLauncher) crash() {
	f.launched.toSupervisor.Close()
	f.launched.exited <- nil
}

func TestEnableReachesReady(t *testing.T) {
	l := newFakeLauncher(t, func(id string, req map[string]any) (bool, string, string) { return true, "ok", "" })
	sup := New(l)

	err := sup.Enable(context.Background(), "model-a")
	require.NoError(t, err)

	status, model, _ := sup.Status()
	require.Equal(t, StatusReady, status)
	require.Equal(t, "model-a", model)
}

func TestEnableSurfacesErrorStatus(t *testing.T) {
	l := &fakeLauncher{failLoad: true}
	sup := New(l)

	err := sup.Enable(context.Background(), "model-a")
	require.Error(t, err)

	status, _, _ := sup.Status()
	require.Equal(t, StatusError, status)
}

func TestGenerateRoundTrips(t *testing.T) {
	l := newFakeLauncher(t, func(id string, req map[string]any) (bool, string, string) {
		return true, "generated text", ""
	})
	sup := New(l)
	require.NoError(t, sup.Enable(context.Background(), "model-a"))

	text, err := sup.Generate(context.Background(), "prompt", 100, 0.5)
	require.NoError(t, err)
	require.Equal(t, "generated text", text)
}

func TestGenerateTimeoutPreservesReadyStatus(t *testing.T) {
	l := newFakeLauncher(t, func(id string, req map[string]any) (bool, string, string) {
		time.Sleep(time.Second) // never answers within the tiny test timeout
		return true, "too late", ""
	})
	sup := New(l).WithTimeouts(time.Second, 20*time.Millisecond)
	require.NoError(t, sup.Enable(context.Background(), "model-a"))

	_, err := sup.Generate(context.Background(), "prompt", 10, 0.1)
	require.Error(t, err)

	status, _, _ := sup.Status()
	require.Equal(t, StatusReady, status)
}

func TestCrashFailsPendingGeneration(t *testing.T) {
	block := make(chan struct{})
	l := newFakeLauncher(t, func(id string, req map[string]any) (bool, string, string) {
		<-block
		return true, "never sent", ""
	})
	sup := New(l).WithTimeouts(time.Second, 5*time.Second)
	require.NoError(t, sup.Enable(context.Background(), "model-a"))

	done := make(chan error, 1)
	go func() {
		_, err := sup.Generate(context.Background(), "prompt", 10, 0.1)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	l.crash()
	close(block)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("generate did not fail after sidecar crash")
	}

	status, _, _ := sup.Status()
	require.Equal(t, StatusOff, status)
}

func TestEnableDisablesPriorSidecarFirst(t *testing.T) {
	l := newFakeLauncher(t, func(id string, req map[string]any) (bool, string, string) { return true, "x", "" })
	sup := New(l)

	require.NoError(t, sup.Enable(context.Background(), "model-a"))
	first := l.launched

	require.NoError(t, sup.Enable(context.Background(), "model-b"))
	require.NotSame(t, first, l.launched)

	status, model, _ := sup.Status()
	require.Equal(t, StatusReady, status)
	require.Equal(t, "model-b", model)
}
