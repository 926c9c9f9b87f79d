package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/agricart/agricart-ops/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Clock runs the publish loop. A zero-value Clock with just Shared and
// Cache set is also usable as a pure reader via CooperativeTime.
type Clock struct {
	Shared SharedStore
	Queue  Queue
	Cache  FallbackCache
	Source string

	Interval   time.Duration // publish cadence
	SyncEvery  time.Duration // queue reconciliation cadence
	MaxRetries int           // attempts per tick, first one included
	RetryBase  time.Duration // backoff base, doubled per attempt

	Now func() time.Time // defaults to time.Now

	mu            sync.Mutex
	syncing       bool
	failures      int
	lastPublished int64
}

func (c *Clock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run publishes once immediately, then on every Interval, reconciling the
// queue on startup and every SyncEvery. Returns when ctx is cancelled;
// pending retry timers die with the context.
func (c *Clock) Run(ctx context.Context) {
	c.SyncQueue(ctx) // pick up anything a previous run left behind
	c.PublishTick(ctx)

	pub := time.NewTicker(c.Interval)
	defer pub.Stop()
	rec := time.NewTicker(c.SyncEvery)
	defer rec.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pub.C:
			c.PublishTick(ctx)
		case <-rec.C:
			c.SyncQueue(ctx)
		}
	}
}

// PublishTick captures the current local time and pushes it to the shared
// store. On failure the tick is queued unconditionally and the same tick is
// retried with exponential backoff, off the timer goroutine so the regular
// cadence is never delayed.
func (c *Clock) PublishTick(ctx context.Context) {
	tick := NewTick(c.now(), c.Source)
	if c.publishOnce(ctx, tick) {
		return
	}

	go func() {
		delay := c.RetryBase
		for attempt := 1; attempt < c.MaxRetries; attempt++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if c.publishOnce(ctx, tick) {
				return
			}
			delay *= 2
		}
		log.Warn().Int64("epoch_ms", tick.EpochMS).
			Msg("heartbeat retries exhausted, tick stays queued for sync")
	}()
}

// publishOnce is one upsert attempt for one tick. Success refreshes the
// fallback snapshot and opportunistically kicks a queue sync.
func (c *Clock) publishOnce(ctx context.Context, tick Tick) bool {
	stale, err := c.Shared.Upsert(ctx, tick)
	if err != nil {
		c.mu.Lock()
		c.failures++
		failures := c.failures
		c.mu.Unlock()

		metrics.HeartbeatPublishTotal.WithLabelValues("failed").Inc()
		if qerr := c.Queue.Enqueue(ctx, tick); qerr != nil {
			log.Error().Err(qerr).Msg("heartbeat enqueue failed")
		}
		if c.Cache != nil {
			_ = c.Cache.Set(ctx, tick)
		}
		log.Warn().Err(err).Int("consecutive_failures", failures).
			Int64("epoch_ms", tick.EpochMS).Msg("heartbeat publish failed, queued")
		return false
	}

	c.mu.Lock()
	c.failures = 0
	if tick.EpochMS > c.lastPublished {
		c.lastPublished = tick.EpochMS
	}
	c.mu.Unlock()

	if stale {
		metrics.HeartbeatPublishTotal.WithLabelValues("stale").Inc()
	} else {
		metrics.HeartbeatPublishTotal.WithLabelValues("ok").Inc()
	}
	if c.Cache != nil {
		_ = c.Cache.Set(ctx, tick)
	}
	go c.SyncQueue(ctx)
	return true
}

// SyncQueue drains the durable queue into the shared store. Only the most
// recent queued tick matters for an authoritative clock; everything older
// is discarded with it. At most one sync runs at a time.
func (c *Clock) SyncQueue(ctx context.Context) {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return
	}
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	ticks, err := c.Queue.DrainAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("heartbeat queue read failed")
		return
	}
	metrics.HeartbeatQueueDepth.Set(float64(len(ticks)))
	if len(ticks) == 0 {
		return
	}

	latest := ticks[0]
	for _, t := range ticks[1:] {
		if t.EpochMS > latest.EpochMS {
			latest = t
		}
	}

	if _, err := c.Shared.Upsert(ctx, latest); err != nil {
		log.Warn().Err(err).Msg("heartbeat queue sync failed")
		return
	}
	if err := c.Queue.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("heartbeat queue clear failed")
		return
	}
	metrics.HeartbeatQueueDepth.Set(0)

	c.mu.Lock()
	c.failures = 0
	if latest.EpochMS > c.lastPublished {
		c.lastPublished = latest.EpochMS
	}
	c.mu.Unlock()
	log.Info().Int("drained", len(ticks)).Int64("epoch_ms", latest.EpochMS).
		Msg("queued heartbeat synced")
}

// CooperativeTime is the consumer read path: shared store first, then the
// fallback snapshot while it lasts, then the caller's own clock.
func (c *Clock) CooperativeTime(ctx context.Context) Tick {
	if c.Shared != nil {
		if t, ok, err := c.Shared.Latest(ctx); err == nil && ok {
			t.Source = SourceShared
			return t
		}
	}
	if c.Cache != nil {
		if t, ok, err := c.Cache.Get(ctx); err == nil && ok {
			t.Source = SourceFallback
			return t
		}
	}
	return NewTick(c.now(), SourceDevice)
}

// Status reports publisher health for the healthz endpoint.
func (c *Clock) Status() (consecutiveFailures int, lastPublished int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures, c.lastPublished
}
