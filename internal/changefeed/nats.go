package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"student-records/internal/metrics"

	"github.com/nats-io/nats.go"
)

// NATS publishes events on "<prefix>.<table>" and listens on "<prefix>.>".
type NATS struct {
	conn    *nats.Conn
	prefix  string
	hub     *Hub
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var (
	_ Publisher = (*NATS)(nil)
	_ Listener  = (*NATS)(nil)
)

func NewNATS(url, prefix string, hub *Hub, logger *slog.Logger, m *metrics.Metrics) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("student-records"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", "url", url, "subject_prefix", prefix)

	return &NATS{
		conn:    conn,
		prefix:  prefix,
		hub:     hub,
		logger:  logger,
		metrics: m,
	}, nil
}

func (n *NATS) subject(table string) string {
	return n.prefix + "." + table
}

func (n *NATS) Publish(ctx context.Context, ev Event) error {
	start := time.Now()
	subject := n.subject(ev.Table)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = n.conn.Publish(subject, data)
	n.metrics.Messaging.RecordPublish(ctx, subject, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	n.logger.DebugContext(ctx, "change event published", "subject", subject, "type", ev.Type, "record_id", ev.RecordID)
	return nil
}

func (n *NATS) Start(ctx context.Context) error {
	sub, err := n.conn.Subscribe(n.prefix+".>", func(msg *nats.Msg) {
		var ev Event
		err := json.Unmarshal(msg.Data, &ev)
		n.metrics.Messaging.RecordConsume(ctx, msg.Subject, err)
		if err != nil {
			n.logger.Error("failed to unmarshal change event", "subject", msg.Subject, "error", err)
			return
		}
		n.hub.Dispatch(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to change events: %w", err)
	}

	n.logger.Info("listening for change events", "subject", sub.Subject)

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		n.logger.Warn("failed to unsubscribe from change events", "error", err)
	}
	return nil
}

func (n *NATS) HealthCheck() error {
	if n.conn == nil || n.conn.IsClosed() {
		return nats.ErrConnectionClosed
	}
	if !n.conn.IsConnected() {
		return nats.ErrDisconnected
	}
	return nil
}

func (n *NATS) Close() error {
	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
	}
	return nil
}
