// Package presence implements per-review presence tracking (C12): a
// {user_id, last_seen} set with a 60-second TTL, backed by etcd leases
// when an endpoint is configured and an in-memory periodic sweep
// otherwise, per spec §4.10's "external KV preferred... in-memory fallback
// acceptable." Grounded on the teacher's direct go.etcd.io/etcd/client/v3
// dependency (used there only indirectly, through a koanf config
// provider); this package is the first direct user of the client's
// lease/keep-alive API in this codebase.
package presence

import (
	"context"
	"time"
)

// DefaultTTL is the presence entry lifetime per spec §4.10.
const DefaultTTL = 60 * time.Second

// Entry is one active participant on a review.
type Entry struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// Tracker maintains the presence set for reviews. Join should be called
// periodically (heartbeat) by a connected client. If Leave is never
// called, a MemoryTracker entry expires TTL seconds after the last Join and
// an EtcdTracker entry expires TTL seconds after its lease stops being kept
// alive.
type Tracker interface {
	Join(ctx context.Context, reviewID, userID string) error
	Leave(ctx context.Context, reviewID, userID string) error
	List(ctx context.Context, reviewID string) ([]Entry, error)
	Close() error
}

func presenceKey(reviewID, userID string) string {
	return "presence/" + reviewID + "/" + userID
}
