package codec

import (
	"bufio"
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

func TestReadRequestSkipsBlankAndMalformedLines(t *testing.T) {
	in := strings.NewReader("\n   \nnot json\n{\"id\":\"r1\",\"cmd\":\"health_check\"}\n")
	c := New(in, &bytes.Buffer{})

	req, err := c.ReadRequest()
	require.NoError(t, err)
	require.Equal(t, "r1", req.ID)
	require.Equal(t, "health_check", req.Cmd)
}

func TestReadRequestEOF(t *testing.T) {
	c := New(strings.NewReader(""), &bytes.Buffer{})
	_, err := c.ReadRequest()
	require.Error(t, err)
}

func TestWriteResponseOneLinePerWrite(t *testing.T) {
	var buf bytes.Buffer
	c := New(strings.NewReader(""), &buf)

	require.NoError(t, c.WriteResponse(horizon.Response{ID: "r1", Status: "ok"}))
	require.NoError(t, c.WriteEvent(horizon.StreamEvent{ID: "r1", Event: "done"}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"status":"ok"`)
	require.Contains(t, lines[1], `"event":"done"`)
}

// TestConcurrentWritesNeverInterleave is the byte-level property from
// spec.md §8: no two emitted JSON lines may interleave on the wire.
func TestConcurrentWritesNeverInterleave(t *testing.T) {
	var buf syncBuffer
	c := New(strings.NewReader(""), &buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.WriteEvent(horizon.StreamEvent{ID: "r1", Event: "token", Data: strings.Repeat("x", 200)})
		}(i)
	}
	wg.Wait()

	sc := bufio.NewScanner(strings.NewReader(buf.String()))
	sc.Buffer(make([]byte, 4096), 1<<20)
	count := 0
	for sc.Scan() {
		line := sc.Text()
		require.True(t, strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}"), "line not valid whole JSON: %q", line)
		count++
	}
	require.Equal(t, 50, count)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
