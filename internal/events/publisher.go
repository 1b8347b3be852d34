// Package events publishes run-completion notifications over NATS so
// downstream tooling can react to regenerated test suites.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Publisher announces completed runs on a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewPublisher connects to NATS. The connection is best-effort
// fire-and-forget publishing; no JetStream persistence is required for
// run notifications.
func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("specgen"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}

	slog.Info("NATS publisher initialized", "url", url, "subject", subject)
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  slog.Default(),
	}, nil
}

// PublishRunCompleted sends the run report as JSON.
func (p *Publisher) PublishRunCompleted(report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish run report: %w", err)
	}
	p.logger.Debug("Published run completion event", "subject", p.subject)
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", "error", err)
	}
}
