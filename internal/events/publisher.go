// Package events publishes ingest job lifecycle events to NATS.
//
// Events are published to subjects of the form
//
//	<prefix>.<kind>.<job_id>.<phase>
//
// for example ingest.document.3f1c....completed. Payloads are JSON.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

// DefaultSubjectPrefix is the first subject token.
const DefaultSubjectPrefix = "ingest"

// Phase is a job lifecycle phase.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Job kinds.
const (
	KindDocument = "document"
	KindTable    = "table"
	KindRepo     = "repo"
)

// Event is the JSON payload of every message.
type Event struct {
	JobID     string         `json:"job_id"`
	Kind      string         `json:"kind"`
	Phase     Phase          `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Publisher sends events. A nil *Publisher discards them, so callers need
// no enabled check.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// Connect dials NATS when events are enabled and returns nil otherwise.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("ingestd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))

	p := New(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// NewJobID returns a fresh job id.
func NewJobID() string {
	return uuid.NewString()
}

// Subject returns the subject for one event.
func (p *Publisher) Subject(kind, jobID string, phase Phase) string {
	prefix := DefaultSubjectPrefix
	if p != nil {
		prefix = p.prefix
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, kind, jobID, phase)
}

// Publish sends one event.
func (p *Publisher) Publish(_ context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev.Kind, ev.JobID, ev.Phase)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Phase, err)
	}
	return nil
}

// Started publishes a started event.
func (p *Publisher) Started(ctx context.Context, kind, jobID string, details map[string]any) error {
	return p.Publish(ctx, Event{JobID: jobID, Kind: kind, Phase: PhaseStarted, Details: details})
}

// Completed publishes a completed event.
func (p *Publisher) Completed(ctx context.Context, kind, jobID string, details map[string]any) error {
	return p.Publish(ctx, Event{JobID: jobID, Kind: kind, Phase: PhaseCompleted, Details: details})
}

// Failed publishes a failed event carrying reason.
func (p *Publisher) Failed(ctx context.Context, kind, jobID, reason string, details map[string]any) error {
	return p.Publish(ctx, Event{JobID: jobID, Kind: kind, Phase: PhaseFailed, Details: details, Error: reason})
}

// Close flushes and, when Connect opened the connection, closes it.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if !p.owned {
		return p.nc.Flush()
	}
	return p.nc.Drain()
}
