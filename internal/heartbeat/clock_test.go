package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memShared mirrors the PGStore contract: upserts only move epoch_ms forward.
type memShared struct {
	mu    sync.Mutex
	tick  Tick
	has   bool
	down  bool
	calls int
}

func (s *memShared) Upsert(_ context.Context, t Tick) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.down {
		return false, errors.New("store unreachable")
	}
	if s.has && t.EpochMS <= s.tick.EpochMS {
		return true, nil
	}
	s.tick = t
	s.has = true
	return false, nil
}

func (s *memShared) Latest(_ context.Context) (Tick, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return Tick{}, false, errors.New("store unreachable")
	}
	return s.tick, s.has, nil
}

func (s *memShared) current() (Tick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick, s.has
}

// memQueue keys by epoch_ms like the Redis sorted set does.
type memQueue struct {
	mu      sync.Mutex
	entries map[int64]Tick
	reads   chan struct{} // when set, DrainAll blocks until released
}

func newMemQueue() *memQueue { return &memQueue{entries: map[int64]Tick{}} }

func (q *memQueue) Enqueue(_ context.Context, t Tick) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[t.EpochMS] = t
	return nil
}

func (q *memQueue) DrainAll(_ context.Context) ([]Tick, error) {
	if q.reads != nil {
		<-q.reads
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Tick, 0, len(q.entries))
	for _, t := range q.entries {
		out = append(out, t)
	}
	return out, nil
}

func (q *memQueue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = map[int64]Tick{}
	return nil
}

func (q *memQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

type memCache struct {
	mu   sync.Mutex
	tick Tick
	has  bool
}

func (c *memCache) Set(_ context.Context, t Tick) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = t
	c.has = true
	return nil
}

func (c *memCache) Get(_ context.Context) (Tick, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick, c.has, nil
}

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newClock(shared *memShared, queue *memQueue, cache *memCache, now *fakeNow) *Clock {
	return &Clock{
		Shared:     shared,
		Queue:      queue,
		Cache:      cache,
		Source:     SourceDesktop,
		Interval:   15 * time.Second,
		SyncEvery:  30 * time.Second,
		MaxRetries: 1, // no background retries unless a test wants them
		RetryBase:  time.Millisecond,
		Now:        now.now,
	}
}

func TestPublishTickUpdatesStoreAndFallback(t *testing.T) {
	shared := &memShared{}
	queue := newMemQueue()
	cache := &memCache{}
	now := &fakeNow{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)} // a Monday

	c := newClock(shared, queue, cache, now)
	c.PublishTick(context.Background())

	tick, ok := shared.current()
	if !ok {
		t.Fatal("shared store should hold a record")
	}
	if tick.EpochMS != now.now().UnixMilli() {
		t.Fatalf("epoch_ms = %d, want %d", tick.EpochMS, now.now().UnixMilli())
	}
	if tick.Weekday != 1 {
		t.Fatalf("weekday = %d, want 1 (Monday)", tick.Weekday)
	}
	if tick.Source != SourceDesktop {
		t.Fatalf("source = %q, want %q", tick.Source, SourceDesktop)
	}
	if _, has, _ := cache.Get(context.Background()); !has {
		t.Fatal("fallback snapshot should be written on success")
	}
	if queue.depth() != 0 {
		t.Fatal("queue should stay empty on success")
	}
}

func TestPublishFailureQueuesEveryTick(t *testing.T) {
	shared := &memShared{down: true}
	queue := newMemQueue()
	cache := &memCache{}
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}

	c := newClock(shared, queue, cache, now)
	for i := 0; i < 3; i++ {
		c.PublishTick(context.Background())
		now.advance(15 * time.Second)
	}

	if got := queue.depth(); got != 3 {
		t.Fatalf("queue depth = %d after 3 offline ticks, want 3", got)
	}
	if _, has, _ := cache.Get(context.Background()); !has {
		t.Fatal("fallback snapshot should be written even when the store is down")
	}
	failures, _ := c.Status()
	if failures != 3 {
		t.Fatalf("consecutive failures = %d, want 3", failures)
	}
}

func TestQueueDedupesByEpoch(t *testing.T) {
	shared := &memShared{down: true}
	queue := newMemQueue()
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}

	c := newClock(shared, queue, &memCache{}, now)
	c.PublishTick(context.Background())
	c.PublishTick(context.Background()) // same clock reading

	if got := queue.depth(); got != 1 {
		t.Fatalf("queue depth = %d for duplicate epoch, want 1", got)
	}
}

func TestSyncQueueMostRecentWinsAndClears(t *testing.T) {
	shared := &memShared{down: true}
	queue := newMemQueue()
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	c := newClock(shared, queue, &memCache{}, now)

	for i := 0; i < 3; i++ {
		c.PublishTick(context.Background())
		now.advance(15 * time.Second)
	}
	latestEpoch := now.now().Add(-15 * time.Second).UnixMilli()

	shared.mu.Lock()
	shared.down = false
	shared.mu.Unlock()
	c.SyncQueue(context.Background())

	tick, ok := shared.current()
	if !ok {
		t.Fatal("shared store should hold the reconciled record")
	}
	if tick.EpochMS != latestEpoch {
		t.Fatalf("reconciled epoch_ms = %d, want most recent %d", tick.EpochMS, latestEpoch)
	}
	if queue.depth() != 0 {
		t.Fatal("queue should be cleared after a successful sync")
	}
	failures, last := c.Status()
	if failures != 0 {
		t.Fatalf("failures = %d after sync, want 0", failures)
	}
	if last != latestEpoch {
		t.Fatalf("lastPublished = %d, want %d", last, latestEpoch)
	}
}

func TestMonotonicGuardRejectsStaleEpoch(t *testing.T) {
	shared := &memShared{}
	queue := newMemQueue()
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	c := newClock(shared, queue, &memCache{}, now)

	now.advance(time.Hour)
	c.PublishTick(context.Background())
	newest, _ := shared.current()
	time.Sleep(20 * time.Millisecond) // let the opportunistic sync settle

	// a tick from the past sits in the queue (e.g. delayed reconnect)
	stale := NewTick(time.Unix(1_700_000_000, 0), SourceDesktop)
	if err := queue.Enqueue(context.Background(), stale); err != nil {
		t.Fatal(err)
	}
	c.SyncQueue(context.Background())

	tick, _ := shared.current()
	if tick.EpochMS != newest.EpochMS {
		t.Fatalf("shared epoch_ms = %d, stale sync must not roll back from %d", tick.EpochMS, newest.EpochMS)
	}
	if queue.depth() != 0 {
		t.Fatal("stale entries are still cleared")
	}
}

func TestSyncQueueSingleFlight(t *testing.T) {
	shared := &memShared{}
	queue := newMemQueue()
	queue.reads = make(chan struct{})
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	c := newClock(shared, queue, &memCache{}, now)

	done := make(chan struct{})
	go func() {
		c.SyncQueue(context.Background())
		close(done)
	}()

	// wait until the first sync is inside DrainAll
	time.Sleep(20 * time.Millisecond)
	c.SyncQueue(context.Background()) // must return immediately, not block

	close(queue.reads)
	<-done

	shared.mu.Lock()
	calls := shared.calls
	shared.mu.Unlock()
	if calls != 0 {
		t.Fatalf("no upserts expected for an empty queue, got %d", calls)
	}
}

func TestPublishRetriesSameTick(t *testing.T) {
	shared := &memShared{down: true}
	queue := newMemQueue()
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	c := newClock(shared, queue, &memCache{}, now)
	c.MaxRetries = 3
	c.RetryBase = 50 * time.Millisecond

	c.PublishTick(context.Background())
	epoch := now.now().UnixMilli()
	now.advance(time.Minute) // retries must keep the original tick, not re-read the clock

	shared.mu.Lock()
	shared.down = false
	shared.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for {
		if tick, ok := shared.current(); ok {
			if tick.EpochMS != epoch {
				t.Fatalf("retried epoch_ms = %d, want original %d", tick.EpochMS, epoch)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry never published")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCooperativeTimeFallbackOrdering(t *testing.T) {
	ctx := context.Background()
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}

	shared := &memShared{}
	cache := &memCache{}
	c := &Clock{Shared: shared, Cache: cache, Now: now.now}

	// nothing anywhere: device time
	got := c.CooperativeTime(ctx)
	if got.Source != SourceDevice {
		t.Fatalf("source = %q, want %q", got.Source, SourceDevice)
	}

	// snapshot only
	snap := NewTick(now.now().Add(-time.Minute), SourceDesktop)
	if err := cache.Set(ctx, snap); err != nil {
		t.Fatal(err)
	}
	got = c.CooperativeTime(ctx)
	if got.Source != SourceFallback {
		t.Fatalf("source = %q, want %q", got.Source, SourceFallback)
	}
	if got.EpochMS != snap.EpochMS {
		t.Fatalf("epoch_ms = %d, want snapshot %d", got.EpochMS, snap.EpochMS)
	}

	// shared store down but snapshot present
	shared.mu.Lock()
	shared.down = true
	shared.mu.Unlock()
	if got = c.CooperativeTime(ctx); got.Source != SourceFallback {
		t.Fatalf("source = %q with store down, want %q", got.Source, SourceFallback)
	}

	// shared store wins once reachable
	shared.mu.Lock()
	shared.down = false
	shared.tick = NewTick(now.now(), SourceDesktop)
	shared.has = true
	shared.mu.Unlock()
	if got = c.CooperativeTime(ctx); got.Source != SourceShared {
		t.Fatalf("source = %q, want %q", got.Source, SourceShared)
	}
}

func TestISOWeekday(t *testing.T) {
	cases := []struct {
		day  time.Time
		want int
	}{
		{time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), 1}, // Monday
		{time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), 6}, // Saturday
		{time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), 7}, // Sunday
	}
	for _, tc := range cases {
		if got := ISOWeekday(tc.day); got != tc.want {
			t.Errorf("ISOWeekday(%s) = %d, want %d", tc.day.Weekday(), got, tc.want)
		}
	}
}
