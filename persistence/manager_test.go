package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"keeper/stats_collector"
)

// fakeClock only moves when told to; Sleep advances it instantly
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type putCall struct {
	key  string
	data map[string]any
}

// fakeStore records every Put and can be told to fail
type fakeStore struct {
	mu       sync.Mutex
	values   map[string]map[string]any
	puts     []putCall
	gets     int
	putErr   func(key string) error
	getErr   error
	onPut    func()
	getFails int // Get fails this many times before succeeding
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]map[string]any)}
}

func (s *fakeStore) Put(_ context.Context, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onPut != nil {
		s.onPut()
	}
	s.puts = append(s.puts, putCall{key: key, data: value})
	if s.putErr != nil {
		if err := s.putErr(key); err != nil {
			return err
		}
	}
	s.values[key] = value
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++
	if s.getErr != nil && (s.getFails < 0 || s.gets <= s.getFails) {
		return nil, false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeStore) Puts() []putCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]putCall(nil), s.puts...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseCapacity = 5
	cfg.PerSessionCapacity = 2
	return cfg
}

func newTestManager(cfg Config) (*Manager, *fakeStore, *fakeClock) {
	store := newFakeStore()
	clock := newFakeClock()
	return NewManager(cfg, store, stats_collector.NewNoopStatsCollector(), clock), store, clock
}

func TestQueueWriteIsSnapshot(t *testing.T) {
	m, _, _ := newTestManager(testConfig())

	entity := map[string]any{"gold": 100}
	m.QueueWrite("Inventory", "42", entity)
	entity["gold"] = 999

	pending := m.queue.pending()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 queued write, got %d", len(pending))
	}
	if pending[0].Data["gold"] != int64(100) {
		t.Errorf("Expected queued gold 100, got %v", pending[0].Data["gold"])
	}
	if pending[0].Key() != "Inventory_42" {
		t.Errorf("Expected key Inventory_42, got %s", pending[0].Key())
	}
}

func TestGetStats(t *testing.T) {
	m, _, _ := newTestManager(testConfig())

	m.QueueWrite("Inventory", "1", map[string]any{"gold": 1})
	m.QueueWrite("Inventory", "2", map[string]any{"gold": 2})

	stats := m.GetStats()
	if stats.QueueDepth != 2 {
		t.Errorf("Expected queue depth 2, got %d", stats.QueueDepth)
	}
	if stats.Capacity != 5 || stats.AvailableTokens != 5 {
		t.Errorf("Expected 5/5 tokens, got %d/%d", stats.AvailableTokens, stats.Capacity)
	}

	m.SetActiveSessions(3)
	stats = m.GetStats()
	if stats.Capacity != 11 {
		t.Errorf("Expected capacity 11 with 3 sessions, got %d", stats.Capacity)
	}
	if stats.AvailableTokens != 5 {
		t.Errorf("Expected growing capacity to leave 5 tokens, got %d", stats.AvailableTokens)
	}
}

func TestQueueDepthWarningIsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.QueueWarnThreshold = 2
	cfg.WarnInterval = 10 * time.Second
	m, _, clock := newTestManager(cfg)

	for i := 0; i < 5; i++ {
		m.QueueWrite("Inventory", fmt.Sprint(i), map[string]any{"gold": i})
	}
	first := m.lastWarn
	if first.IsZero() {
		t.Fatal("Expected a depth warning above the threshold")
	}

	clock.Advance(time.Second)
	m.QueueWrite("Inventory", "x", map[string]any{})
	if !m.lastWarn.Equal(first) {
		t.Error("Expected no second warning inside the warn interval")
	}

	clock.Advance(10 * time.Second)
	m.QueueWrite("Inventory", "y", map[string]any{})
	if m.lastWarn.Equal(first) {
		t.Error("Expected a new warning after the warn interval")
	}
	if m.queue.len() != 7 {
		t.Errorf("Expected the queue to keep growing past the threshold, got %d", m.queue.len())
	}
}

func TestStartStopFlushesNothing(t *testing.T) {
	cfg := testConfig()
	m := NewManager(cfg, newFakeStore(), nil, nil)

	m.Start(context.Background())
	m.Stop()

	summary := m.FlushAll(context.Background())
	if summary.Succeeded != 0 || summary.Failed != 0 || summary.Abandoned != 0 {
		t.Errorf("Expected empty flush, got %+v", summary)
	}
	if summary.Err() != nil {
		t.Errorf("Expected no error, got %s", summary.Err())
	}
}

func TestShutdownDrainsQueue(t *testing.T) {
	cfg := testConfig()
	m, store, _ := newTestManager(cfg)

	m.QueueWrite("Inventory", "1", map[string]any{"gold": 1})
	m.QueueWrite("Shrine", "1", map[string]any{"offerings": 3})

	summary := m.Shutdown(context.Background())
	if summary.Succeeded != 2 {
		t.Errorf("Expected 2 writes on shutdown, got %+v", summary)
	}
	if len(store.Puts()) != 2 {
		t.Errorf("Expected 2 store puts, got %d", len(store.Puts()))
	}
}

func TestFlushSummaryErr(t *testing.T) {
	s := FlushSummary{Succeeded: 3, Abandoned: 2}
	if !errors.Is(s.Err(), ErrFlushIncomplete) {
		t.Errorf("Expected ErrFlushIncomplete, got %v", s.Err())
	}
}
