// Package codec implements the newline-delimited JSON framing used for the
// worker's stdin/stdout IPC channel (spec.md §4.1).
package codec

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

// maxLineSize bounds a single inbound line. A longer line is not skipped
// like a malformed one: the scanner stops with bufio.ErrTooLong,
// ReadRequest returns that error, and no further lines are read.
const maxLineSize = 4 << 20 // 4 MiB, comfortably above the 1 MiB payload cap

// Codec reads newline-JSON requests from r and writes newline-JSON
// responses/events to w. Writes are serialized under a single mutex so no
// two emitted lines ever interleave on the wire (spec.md §4.1, §4.6).
type Codec struct {
	scanner *bufio.Scanner

	writeMu sync.Mutex
	w       *bufio.Writer
}

// New wraps r and w for framed IPC.
func New(r io.Reader, w io.Writer) *Codec {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Codec{
		scanner: s,
		w:       bufio.NewWriter(w),
	}
}

// ReadRequest blocks until the next non-blank line is read and parsed as a
// Request. Malformed lines are logged and skipped, not fatal; io.EOF (and
// only io.EOF) is returned once the stream is closed.
func (c *Codec) ReadRequest() (horizon.Request, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(bufioTrimSpace(line)) == 0 {
			continue
		}
		var req horizon.Request
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Warn("malformed IPC line, discarding", "error", err)
			continue
		}
		return req, nil
	}
	if err := c.scanner.Err(); err != nil {
		return horizon.Request{}, err
	}
	return horizon.Request{}, io.EOF
}

// WriteResponse writes a single terminal Response line.
func (c *Codec) WriteResponse(resp horizon.Response) error {
	return c.writeLine(resp)
}

// WriteEvent writes a single StreamEvent line.
func (c *Codec) WriteEvent(ev horizon.StreamEvent) error {
	return c.writeLine(ev)
}

// writeLine marshals v and writes it as one newline-terminated JSON line,
// holding the writer mutex for the whole marshal+write+flush so that
// concurrent emitters (the dispatcher, the stream pump, the telemetry
// pusher) never interleave partial lines.
func (c *Codec) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

func bufioTrimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
