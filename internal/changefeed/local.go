package changefeed

import (
	"context"
	"log/slog"
)

const localBuffer = 256

// Local queues published events in memory and hands them to a hub from
// Start's goroutine. It serves a single replica deployment and tests.
type Local struct {
	hub    *Hub
	events chan Event
	logger *slog.Logger
}

var (
	_ Publisher = (*Local)(nil)
	_ Listener  = (*Local)(nil)
)

func NewLocal(hub *Hub, logger *slog.Logger) *Local {
	return &Local{
		hub:    hub,
		events: make(chan Event, localBuffer),
		logger: logger,
	}
}

// Publish enqueues ev without waiting for subscribers. When the queue is full
// the event is dropped; the next change refreshes every panel anyway.
func (l *Local) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l.events <- ev:
	default:
		l.logger.WarnContext(ctx, "change feed queue full, dropping event",
			"table", ev.Table,
			"type", ev.Type,
			"record_id", ev.RecordID,
		)
	}
	return nil
}

// Start dispatches queued events until ctx is done.
func (l *Local) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.events:
			l.hub.Dispatch(ev)
		}
	}
}

func (l *Local) HealthCheck() error { return nil }

func (l *Local) Close() error { return nil }
