package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"keeper/persistence"
	"keeper/store"
)

// fakePersister returns canned load results and records everything else
type fakePersister struct {
	mu       sync.Mutex
	results  map[string]persistence.LoadResult
	writes   []string
	flushed  []string
	sessions int
}

func newFakePersister() *fakePersister {
	return &fakePersister{results: make(map[string]persistence.LoadResult)}
}

func (p *fakePersister) QueueWrite(entityType, ownerKey string, entity any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, persistence.StorageKey(entityType, ownerKey))
}

func (p *fakePersister) LoadEntity(_ context.Context, entityType, ownerKey string) persistence.LoadResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.results[persistence.StorageKey(entityType, ownerKey)]; ok {
		return r
	}
	return persistence.LoadResult{Outcome: persistence.NotFound, Attempts: 1}
}

func (p *fakePersister) FlushOwner(_ context.Context, ownerKey string) persistence.FlushSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed = append(p.flushed, ownerKey)
	return persistence.FlushSummary{}
}

func (p *fakePersister) SetActiveSessions(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = count
}

func newTestSessions(t *testing.T, p Persister, idle time.Duration) *Manager {
	t.Helper()
	m := NewManager(p, idle)
	if err := m.Register("Inventory", CountersFactory(map[string]int64{"gold": 0, "treasure": 0})); err != nil {
		t.Fatalf("Register failed: %s", err)
	}
	if err := m.Register("Shrine", CountersFactory(map[string]int64{"offerings": 0})); err != nil {
		t.Fatalf("Register failed: %s", err)
	}
	return m
}

func TestRegister(t *testing.T) {
	m := NewManager(newFakePersister(), 0)

	if err := m.Register("Bad_Type", CountersFactory(nil)); !errors.Is(err, ErrInvalidEntityType) {
		t.Errorf("Expected ErrInvalidEntityType for underscore, got %v", err)
	}
	if err := m.Register("", CountersFactory(nil)); !errors.Is(err, ErrInvalidEntityType) {
		t.Errorf("Expected ErrInvalidEntityType for empty name, got %v", err)
	}
	if err := m.Register("Shrine", CountersFactory(nil)); err != nil {
		t.Fatalf("Register failed: %s", err)
	}
	if err := m.Register("Shrine", CountersFactory(nil)); !errors.Is(err, ErrDuplicateRegister) {
		t.Errorf("Expected ErrDuplicateRegister, got %v", err)
	}
	m.Register("Inventory", CountersFactory(nil))

	types := m.EntityTypes()
	if len(types) != 2 || types[0] != "Inventory" || types[1] != "Shrine" {
		t.Errorf("Expected sorted types, got %v", types)
	}
}

func TestBeginDefaultsAndRestore(t *testing.T) {
	p := newFakePersister()
	p.results["Inventory_42"] = persistence.LoadResult{
		Outcome: persistence.Found,
		Data:    map[string]any{"gold": int64(150)},
	}
	m := newTestSessions(t, p, 0)

	if err := m.Begin(context.Background(), "42"); err != nil {
		t.Fatalf("Begin failed: %s", err)
	}

	inv, err := m.Get("42", "Inventory")
	if err != nil {
		t.Fatalf("Get failed: %s", err)
	}
	if inv["gold"] != int64(150) || inv["treasure"] != int64(0) {
		t.Errorf("Expected restored gold and default treasure, got %v", inv)
	}
	shrine, _ := m.Get("42", "Shrine")
	if shrine["offerings"] != int64(0) {
		t.Errorf("Expected default offerings, got %v", shrine)
	}

	if m.ActiveCount() != 1 || p.sessions != 1 {
		t.Errorf("Expected 1 active session reported, got %d / %d", m.ActiveCount(), p.sessions)
	}
	if err := m.Begin(context.Background(), "42"); !errors.Is(err, ErrSessionExists) {
		t.Errorf("Expected ErrSessionExists, got %v", err)
	}
}

func TestBeginAbortsOnFailedLoad(t *testing.T) {
	p := newFakePersister()
	p.results["Shrine_7"] = persistence.LoadResult{
		Outcome:  persistence.Failed,
		Attempts: 3,
		Err:      fmt.Errorf("%w: Shrine_7: store down", persistence.ErrLoadFailed),
	}
	m := newTestSessions(t, p, 0)

	err := m.Begin(context.Background(), "7")
	if !errors.Is(err, persistence.ErrLoadFailed) {
		t.Fatalf("Expected ErrLoadFailed, got %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("Expected no session after a failed load, got %d", m.ActiveCount())
	}
	if _, err := m.Get("7", "Inventory"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected no entities registered, got %v", err)
	}
	if m.entities.Size() != 0 {
		t.Errorf("Expected no entities stored, got %d", m.entities.Size())
	}
}

func TestBeginRejectsUnreadableRecord(t *testing.T) {
	p := newFakePersister()
	p.results["Inventory_9"] = persistence.LoadResult{
		Outcome: persistence.Found,
		Data:    map[string]any{"gold": "lots"},
	}
	m := newTestSessions(t, p, 0)

	if err := m.Begin(context.Background(), "9"); !errors.Is(err, persistence.ErrLoadFailed) {
		t.Errorf("Expected ErrLoadFailed for unreadable record, got %v", err)
	}
}

func TestMutateQueuesWrite(t *testing.T) {
	p := newFakePersister()
	m := newTestSessions(t, p, 0)
	m.Begin(context.Background(), "42")

	err := m.Mutate("42", "Inventory", AdjustCounters(map[string]int64{"gold": 25}, nil))
	if err != nil {
		t.Fatalf("Mutate failed: %s", err)
	}
	if len(p.writes) != 1 || p.writes[0] != "Inventory_42" {
		t.Errorf("Expected one write for Inventory_42, got %v", p.writes)
	}

	failing := func(Entity) error { return errors.New("not allowed") }
	if err := m.Mutate("42", "Inventory", failing); err == nil {
		t.Error("Expected mutation error to be returned")
	}
	if len(p.writes) != 1 {
		t.Errorf("Expected no write after a failed mutation, got %v", p.writes)
	}

	if err := m.Mutate("42", "Castle", failing); !errors.Is(err, ErrUnknownEntityType) {
		t.Errorf("Expected ErrUnknownEntityType, got %v", err)
	}
	if err := m.Mutate("43", "Inventory", failing); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
}

func TestEndFlushesOwner(t *testing.T) {
	p := newFakePersister()
	m := newTestSessions(t, p, 0)
	m.Begin(context.Background(), "42")
	m.Begin(context.Background(), "43")

	if _, err := m.End(context.Background(), "42"); err != nil {
		t.Fatalf("End failed: %s", err)
	}
	if len(p.flushed) != 1 || p.flushed[0] != "42" {
		t.Errorf("Expected owner 42 flushed, got %v", p.flushed)
	}
	if m.ActiveCount() != 1 || p.sessions != 1 {
		t.Errorf("Expected 1 session left, got %d / %d", m.ActiveCount(), p.sessions)
	}
	if _, err := m.Get("42", "Inventory"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession after End, got %v", err)
	}
	if _, err := m.End(context.Background(), "42"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession for second End, got %v", err)
	}
	if owners := m.Owners(); len(owners) != 1 || owners[0] != "43" {
		t.Errorf("Expected owner 43 left, got %v", owners)
	}
}

func TestSessionRoundTripThroughStore(t *testing.T) {
	backend := store.NewMemoryStore()
	pm := persistence.NewManager(persistence.DefaultConfig(), backend, nil, nil)
	m := newTestSessions(t, pm, 0)
	ctx := context.Background()

	if err := m.Begin(ctx, "42"); err != nil {
		t.Fatalf("Begin failed: %s", err)
	}
	m.Mutate("42", "Inventory", AdjustCounters(map[string]int64{"gold": 100}, nil))
	m.Mutate("42", "Inventory", AdjustCounters(map[string]int64{"gold": 50}, map[string]int64{"treasure": 3}))

	summary, err := m.End(ctx, "42")
	if err != nil || summary.Succeeded != 2 {
		t.Fatalf("Expected 2 flushed writes, got %+v (%v)", summary, err)
	}
	if pm.GetStats().QueueDepth != 0 {
		t.Errorf("Expected empty queue, got %d", pm.GetStats().QueueDepth)
	}

	if err := m.Begin(ctx, "42"); err != nil {
		t.Fatalf("Second Begin failed: %s", err)
	}
	inv, _ := m.Get("42", "Inventory")
	if inv["gold"] != int64(150) || inv["treasure"] != int64(3) {
		t.Errorf("Expected gold 150 and treasure 3 after reload, got %v", inv)
	}
}

func TestIdleSessionExpires(t *testing.T) {
	backend := store.NewMemoryStore()
	pm := persistence.NewManager(persistence.DefaultConfig(), backend, nil, nil)
	m := newTestSessions(t, pm, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Begin(ctx, "42")
	m.Mutate("42", "Shrine", AdjustCounters(map[string]int64{"offerings": 2}, nil))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.ActiveCount() == 0 && backend.Len() == 1 {
			if !m.holdsEntities("42") {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	if m.ActiveCount() != 0 {
		t.Fatalf("Expected idle session to expire, %d active", m.ActiveCount())
	}
	value, found, err := backend.Get(context.Background(), "Shrine_42")
	if err != nil || !found || fmt.Sprint(value["offerings"]) != "2" {
		t.Errorf("Expected expiry to flush offerings 2, got %v %v %v", value, found, err)
	}
	if _, err := m.Get("42", "Shrine"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession after expiry, got %v", err)
	}
}

func TestBeginWaitsForExpiredSessionFlush(t *testing.T) {
	backend := store.NewMemoryStore()
	pm := persistence.NewManager(persistence.DefaultConfig(), backend, nil, nil)
	m := newTestSessions(t, pm, 0)
	ctx := context.Background()

	if err := m.Begin(ctx, "42"); err != nil {
		t.Fatalf("Begin failed: %s", err)
	}
	m.Mutate("42", "Inventory", AdjustCounters(map[string]int64{"gold": 70}, nil))

	// Gone from the owner cache, not yet flushed by expire
	m.owners.Delete("42")

	if err := m.Begin(ctx, "42"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("Expected ErrSessionExists while the old session is unflushed, got %v", err)
	}

	m.expire("42")
	if pm.GetStats().QueueDepth != 0 {
		t.Errorf("Expected expire to flush the queue, got depth %d", pm.GetStats().QueueDepth)
	}

	if err := m.Begin(ctx, "42"); err != nil {
		t.Fatalf("Begin after expiry failed: %s", err)
	}
	inv, _ := m.Get("42", "Inventory")
	if inv["gold"] != int64(70) {
		t.Errorf("Expected reload to see gold 70, got %v", inv["gold"])
	}
}
