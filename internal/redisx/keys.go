package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{external_id} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id or order_id:phase)
	KeyDedup = "dedup:%s:%s"

	// Heartbeat durable queue: sorted set scored by epoch_ms.
	KeyHeartbeatQueue = "coop_time:heartbeat_queue"

	// Last published heartbeat snapshot, used as read fallback.
	KeyHeartbeatFallback = "coop_time:heartbeat_fallback"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
