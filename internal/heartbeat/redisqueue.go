package heartbeat

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/agricart/agricart-ops/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisQueue buffers unpublished ticks in a sorted set scored by epoch_ms.
// One entry per epoch (a re-enqueued tick replaces itself), bounded to Max
// entries with the oldest evicted first.
type RedisQueue struct {
	Client *redis.Client
	Max    int
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Tick) error {
	t.QueuedAt = time.Now().UnixMilli()
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}

	score := float64(t.EpochMS)
	pipe := q.Client.TxPipeline()
	// same epoch re-queued: drop the previous entry first
	pipe.ZRemRangeByScore(ctx, redisx.KeyHeartbeatQueue, floatStr(score), floatStr(score))
	pipe.ZAdd(ctx, redisx.KeyHeartbeatQueue, redis.Z{Score: score, Member: b})
	if q.Max > 0 {
		pipe.ZRemRangeByRank(ctx, redisx.KeyHeartbeatQueue, 0, int64(-q.Max-1))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) DrainAll(ctx context.Context) ([]Tick, error) {
	vals, err := q.Client.ZRange(ctx, redisx.KeyHeartbeatQueue, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Tick, 0, len(vals))
	for _, v := range vals {
		var t Tick
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue // a corrupt entry should not block the sync
		}
		out = append(out, t)
	}
	return out, nil
}

func (q *RedisQueue) Clear(ctx context.Context) error {
	return q.Client.Del(ctx, redisx.KeyHeartbeatQueue).Err()
}

func floatStr(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// RedisFallback caches the last heartbeat under a TTL so readers briefly
// survive losing both the shared store and the queue.
type RedisFallback struct {
	Client *redis.Client
	TTL    time.Duration
}

func (f *RedisFallback) Set(ctx context.Context, t Tick) error {
	t.StoredAt = time.Now().UnixMilli()
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return f.Client.Set(ctx, redisx.KeyHeartbeatFallback, b, f.TTL).Err()
}

func (f *RedisFallback) Get(ctx context.Context) (Tick, bool, error) {
	v, err := f.Client.Get(ctx, redisx.KeyHeartbeatFallback).Bytes()
	if err == redis.Nil {
		return Tick{}, false, nil
	}
	if err != nil {
		return Tick{}, false, err
	}
	var t Tick
	if err := json.Unmarshal(v, &t); err != nil {
		return Tick{}, false, err
	}
	return t, true, nil
}
