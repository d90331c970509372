// Package events publishes redaction outcomes to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectCompleted = "obscura.redaction.completed"
	SubjectFailed    = "obscura.redaction.failed"
)

// Event describes one finished request.
type Event struct {
	RequestID  string    `json:"request_id"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Frames     int       `json:"frames,omitempty"`
	Files      int       `json:"files,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Subject returns the subject e is published on.
func (e Event) Subject() string {
	if e.Status == "failed" {
		return SubjectFailed
	}
	return SubjectCompleted
}

// Publisher emits events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATS publishes events as JSON on core NATS subjects.
type NATS struct {
	conn   conn
	logger *slog.Logger
}

// New connects to url, or returns Noop when url is empty.
func New(url string, logger *slog.Logger) (Publisher, error) {
	if url == "" {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	nc, err := nats.Connect(url,
		nats.Name("obscura"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("NATS publisher connected", "url", url)
	return &NATS{conn: nc, logger: logger}, nil
}

func (p *NATS) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(e.Subject(), data); err != nil {
		p.logger.Error("Failed to publish event", "request_id", e.RequestID, "error", err)
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("Event published", "subject", e.Subject(), "request_id", e.RequestID)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.conn.Drain()
}
