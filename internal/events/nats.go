package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/config"
)

type subjectPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSMirror republishes dispatcher events on NATS subjects for external consumers.
type NATSMirror struct {
	conn   *nats.Conn
	pub    subjectPublisher
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials NATS. It returns nil without error when no URL is configured.
func ConnectNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATSMirror, error) {
	if cfg.URL == "" {
		logger.Info("NATS_URL not provided; event mirroring disabled")
		return nil, nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("servicedesk-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("connected to nats", zap.String("url", nc.ConnectedUrl()))
	return &NATSMirror{conn: nc, pub: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func (m *NATSMirror) Subject(t EventType) string {
	return m.prefix + "." + string(t)
}

// Handle publishes one event. It is registered on the dispatcher via Register.
func (m *NATSMirror) Handle(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := m.pub.Publish(m.Subject(event.Type), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Register mirrors every event type. A nil mirror registers nothing.
func (m *NATSMirror) Register(d Dispatcher) {
	if m == nil {
		return
	}
	SubscribeAll(d, m.Handle)
}

// Close drains the connection.
func (m *NATSMirror) Close() {
	if m == nil || m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.logger.Warn("nats drain failed", zap.Error(err))
	}
}
