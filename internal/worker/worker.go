package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/obscura/internal/utils" // Using the SafeCommand wrapper
)

// Status bytes written by the model worker ahead of every response.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// maxFrame bounds a single response so a corrupt header cannot allocate gigabytes.
const maxFrame = 512 << 20

// ErrProtocol marks a broken pipe or malformed frame. The worker must be replaced.
var ErrProtocol = errors.New("worker protocol error")

// Config describes how to launch one model worker process.
type Config struct {
	Python      string
	Script      string
	Args        []string
	// ReadTimeout bounds one call: sending the request and reading the reply.
	ReadTimeout time.Duration
}

// Response is a decoded status-0 reply: a JSON document and an optional binary blob.
type Response struct {
	JSON []byte
	Blob []byte
}

// Decode unmarshals the JSON part into v.
func (r *Response) Decode(v any) error {
	if len(r.JSON) == 0 {
		return fmt.Errorf("%w: empty JSON result", ErrProtocol)
	}
	return json.Unmarshal(r.JSON, v)
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

type request struct {
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	args := append([]string{"-u", cfg.Script}, cfg.Args...)
	py := utils.NewSafeCommand(ctx, cfg.Python, args...)

	// Create a side-channel pipe (FD 3) so library prints on stdout cannot corrupt the protocol
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	// stdin is a plain pipe rather than Cmd.StdinPipe so writes can carry a deadline
	stdinR, stdin, err := os.Pipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	py.Cmd.Stdin = stdinR

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		stdinR.Close()
		stdin.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the child's ends in the parent so only the child holds them
	w.Close()
	stdinR.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Call sends one request and waits for its reply.
// Request: [u32 len][JSON {op,args}][u32 len][body]
// Reply:   [u32 len][status][payload]
// Status 0 payload is [u32 len][JSON][u32 len][blob]; status 1 payload is [u32 len][message].
func (w *PythonWorker) Call(op string, args any, body []byte) (*Response, error) {
	header, err := json.Marshal(request{Op: op, Args: args})
	if err != nil {
		return nil, err
	}
	if w.ReadTimeout > 0 {
		deadline := time.Now().Add(w.ReadTimeout)
		if d, ok := w.Stdin.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = d.SetWriteDeadline(deadline)
		}
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = d.SetReadDeadline(deadline)
		}
	}

	// A worker that stops reading stdin surfaces here once the write deadline passes
	if err := writeFrame(w.Stdin, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := writeFrame(w.Stdin, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	// This is where we catch a crashed interpreter (e.g. "ModuleNotFoundError")
	payload, err := readFrame(w.DataPipe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return parseReply(payload)
}

func parseReply(payload []byte) (*Response, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty reply", ErrProtocol)
	}
	rest := payload[1:]
	switch payload[0] {
	case StatusOK:
		js, rest, err := cut(rest)
		if err != nil {
			return nil, err
		}
		blob, _, err := cut(rest)
		if err != nil {
			return nil, err
		}
		return &Response{JSON: js, Blob: blob}, nil
	case StatusError:
		msg, _, err := cut(rest)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrProtocol, payload[0])
	}
}

// cut splits a [u32 len][data] section off b.
func cut(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated section header", ErrProtocol)
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, nil, fmt.Errorf("%w: section of %d bytes exceeds reply", ErrProtocol, n)
	}
	return b[:n], b[n:], nil
}

func writeFrame(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	_, err := io.ReadFull(r, body)
	return body, err
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
