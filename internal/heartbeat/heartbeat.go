// Package heartbeat publishes the staff desktop wall clock as the
// cooperative time source the rest of the system trusts over its own clocks.
// Publishes survive store outages through a durable local queue and a
// short-lived fallback snapshot, and are reconciled most-recent-wins once
// the store is reachable again.
package heartbeat

import (
	"context"
	"time"
)

// Source tags, ordered from most to least trusted on the read path.
const (
	SourceDesktop  = "staff-admin-desktop"
	SourceShared   = "shared-store"
	SourceFallback = "local-fallback"
	SourceDevice   = "device-time"
)

// Tick is one published heartbeat. EpochMS is the key: the shared record
// only ever moves forward along it.
type Tick struct {
	EpochMS  int64  `json:"epoch_ms"`
	ISO      string `json:"iso"`
	Weekday  int    `json:"weekday"` // ISO 8601, Monday=1
	Source   string `json:"source,omitempty"`
	QueuedAt int64  `json:"queued_at,omitempty"`
	StoredAt int64  `json:"stored_at,omitempty"`
}

func NewTick(now time.Time, source string) Tick {
	now = now.UTC()
	return Tick{
		EpochMS: now.UnixMilli(),
		ISO:     now.Format(time.RFC3339Nano),
		Weekday: ISOWeekday(now),
		Source:  source,
	}
}

// ISOWeekday converts Go's Sunday-based weekday to ISO numbering (Mon=1..Sun=7).
func ISOWeekday(t time.Time) int {
	return (int(t.Weekday())+6)%7 + 1
}

// SharedStore is the singleton record every consumer reads. Upsert must be
// monotonic on EpochMS: a write older than the stored record is discarded
// and reported as stale, not an error.
type SharedStore interface {
	Upsert(ctx context.Context, t Tick) (stale bool, err error)
	Latest(ctx context.Context) (Tick, bool, error)
}

// Queue is the durable local buffer for ticks that could not be published.
// DrainAll reads without removing; Clear empties the queue after a
// successful reconciliation. Implementations are bounded and evict oldest
// first, and deduplicate by EpochMS.
type Queue interface {
	Enqueue(ctx context.Context, t Tick) error
	DrainAll(ctx context.Context) ([]Tick, error)
	Clear(ctx context.Context) error
}

// FallbackCache holds the single most recent heartbeat with an expiry, the
// last-resort read path before giving up and using device time.
type FallbackCache interface {
	Set(ctx context.Context, t Tick) error
	Get(ctx context.Context) (Tick, bool, error)
}
