package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

const (
	KindFetch    = "fetch"
	KindClassify = "classify"
)

// PassReport summarizes one completed pipeline pass.
type PassReport struct {
	RunID      string         `json:"run_id"`
	Kind       string         `json:"kind"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Succeeded  int            `json:"succeeded"`
	Total      int            `json:"total"`
	Deleted    int            `json:"deleted,omitempty"`
	Retained   int            `json:"retained,omitempty"`
	Categories map[string]int `json:"categories,omitempty"`
}

// NewRunID identifies a pass across logs and published reports.
func NewRunID() string {
	return uuid.NewString()
}

type Publisher interface {
	Publish(ctx context.Context, r PassReport) error
	Close()
}

// Connect returns a NATS publisher, or a no-op publisher when url is empty.
func Connect(url, subject string) (Publisher, error) {
	if url == "" {
		return Noop{}, nil
	}
	nc, err := nats.Connect(url, nats.Name("star-catalog"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &natsPublisher{nc: nc, subject: subject}, nil
}

type natsPublisher struct {
	nc      *nats.Conn
	subject string
}

func (p *natsPublisher) Publish(ctx context.Context, r PassReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal pass report: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	// Flush so a short-lived CLI run does not exit with the report buffered.
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}

func (p *natsPublisher) Close() {
	p.nc.Close()
}

// Noop discards reports.
type Noop struct{}

func (Noop) Publish(context.Context, PassReport) error { return nil }
func (Noop) Close()                                    {}
