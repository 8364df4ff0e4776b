// Package events publishes run lifecycle events to NATS so external
// consumers can follow pipeline progress. Publishing is best effort: a
// lost event never fails the run.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/paperforge/config"
)

// Event types emitted over the run lifecycle.
const (
	TypePaperLoaded     = "paper.loaded"
	TypeSignalsDesigned = "signals.designed"
	TypeSynthesized     = "artifact.synthesized"
	TypeIterationDone   = "iteration.completed"
	TypeRunFinished     = "run.finished"
)

// Event is the wire format for one lifecycle event.
type Event struct {
	Type    string         `json:"type"`
	PaperID string         `json:"paper_id"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher emits events on NATS subjects under a configured prefix.
// A nil Publisher is valid and publishes nothing, so callers never need
// to branch on whether events are enabled.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect opens the NATS connection. Returns (nil, nil) when no URL is
// configured.
func Connect(cfg config.EventsConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("paperforge"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "paperforge"
	}

	logger.Info("event publishing enabled", "url", cfg.URL, "prefix", prefix)
	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Publish emits one event. Failures are logged, never returned.
func (p *Publisher) Publish(eventType, paperID string, data map[string]any) {
	if p == nil {
		return
	}

	ev := Event{
		Type:    eventType,
		PaperID: paperID,
		Time:    time.Now().UTC(),
		Data:    data,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("could not marshal event", "type", eventType, "error", err)
		return
	}

	subject := p.prefix + "." + eventType
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("could not publish event", "subject", subject, "error", err)
	}
}

// Close drains and closes the connection. Safe on nil.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
	p.conn.Close()
}
