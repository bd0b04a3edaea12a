// Package changefeed carries row change notifications from the replica that
// committed a change to every replica holding live subscriptions.
package changefeed

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	Insert Type = "INSERT"
	Update Type = "UPDATE"
	Delete Type = "DELETE"
)

// Event describes one committed row change. OwnerID is the owner of the row
// and is used to route the event to subscribers allowed to see it.
type Event struct {
	Table           string    `json:"table"`
	Type            Type      `json:"type"`
	RecordID        uuid.UUID `json:"record_id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// Publisher sends committed changes to the feed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Listener receives changes from the feed and dispatches them to a Hub until
// ctx is cancelled.
type Listener interface {
	Start(ctx context.Context) error
	HealthCheck() error
	Close() error
}
