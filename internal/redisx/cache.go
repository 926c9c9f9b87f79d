package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Cache fronts the order read fast paths. Every write is best effort, the
// DB row stays the truth.
type Cache struct{ Client *redis.Client }

func (c *Cache) SetIdempotent(ctx context.Context, externalID, orderID string) {
	_ = c.Client.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), orderID, TTLIdempotency).Err()
}

func (c *Cache) GetStatus(ctx context.Context, orderID string) (string, bool) {
	s, err := c.Client.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	return s, err == nil && s != ""
}

func (c *Cache) SetStatus(ctx context.Context, orderID string, body []byte) {
	_ = c.Client.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), body, TTLStatusCache).Err()
}

func (c *Cache) DropStatus(ctx context.Context, orderID string) {
	_ = c.Client.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
