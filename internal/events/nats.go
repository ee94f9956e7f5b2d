package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
)

// DefaultSubjectPrefix prefixes every subject when none is configured.
const DefaultSubjectPrefix = "obsidian_rag"

// NATSPublisher publishes events to a NATS server.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// NewNATSPublisher wraps an existing connection. The caller keeps ownership
// of nc; Close only flushes.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("obsidian-rag"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish sends ev as JSON.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.String("id", ev.ID))
	return nil
}

// Close flushes pending messages and, when the publisher dialed the
// connection itself, closes it.
func (p *NATSPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	err := p.nc.FlushTimeout(2 * time.Second)
	if p.owned {
		p.nc.Close()
	}
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

var _ Publisher = (*NATSPublisher)(nil)

// FromConfig returns a NATS publisher when events.nats_url is set and a
// NopPublisher otherwise.
func FromConfig(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		return NopPublisher{}, nil
	}
	return Connect(cfg.NATSURL, cfg.SubjectPrefix, logger)
}
