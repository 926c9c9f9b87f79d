package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per consumer group. Mark must run only
// after the handler succeeded: a failed event stays unseen so its redelivery
// is processed instead of dropped.
type Dedup struct{ Client *redis.Client }

func (d *Dedup) Seen(ctx context.Context, group, eventID string) (bool, error) {
	return Exists(ctx, d.Client, fmt.Sprintf(KeyDedup, group, eventID))
}

func (d *Dedup) Mark(ctx context.Context, group, eventID string) {
	_ = d.Client.Set(ctx, fmt.Sprintf(KeyDedup, group, eventID), "1", TTLDedup).Err()
}
