package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"keeper/stats_collector"
)

const statusInterval = 30 * time.Second

// Manager owns the write queue, the token bucket and the processor that drains
// one into the store subject to the other. All queue access goes through it.
type Manager struct {
	cfg    Config
	store  Store
	stats  stats_collector.StatsCollector
	clock  Clock
	queue  writeQueue
	bucket *TokenBucket

	// writeMu is held across pop-and-write by the processor and across each
	// flush, so no two paths write to the store at once and per-owner order
	// is kept.
	writeMu sync.Mutex

	warnMu   sync.Mutex
	lastWarn time.Time

	written atomic.Int64
	failed  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a persistence manager. A nil stats collector or clock
// falls back to the noop collector and the wall clock.
func NewManager(cfg Config, store Store, stats stats_collector.StatsCollector, clock Clock) *Manager {
	cfg = cfg.withDefaults()
	if stats == nil {
		stats = stats_collector.NewNoopStatsCollector()
	}
	if clock == nil {
		clock = SystemClock
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		stats:  stats,
		clock:  clock,
		bucket: NewTokenBucket(cfg.BaseCapacity, cfg.PerSessionCapacity, cfg.RegenInterval, clock),
	}
	m.stats.SetTokens(float64(m.bucket.Available()), float64(m.bucket.Capacity()))
	return m
}

// QueueWrite snapshots entity and appends it to the queue. It never blocks on
// the store; a deep queue is reported but never refused.
func (m *Manager) QueueWrite(entityType, ownerKey string, entity any) {
	req := &WriteRequest{
		EntityType: entityType,
		OwnerKey:   ownerKey,
		Data:       Snapshot(entity),
		EnqueuedAt: m.clock.Now(),
	}

	depth := m.queue.push(req)
	m.stats.SetQueueDepth(float64(depth))

	if m.cfg.QueueWarnThreshold > 0 && depth > m.cfg.QueueWarnThreshold {
		m.warnDepth(depth)
	}
}

// warnDepth logs at most one depth warning per WarnInterval
func (m *Manager) warnDepth(depth int) {
	now := m.clock.Now()

	m.warnMu.Lock()
	if !m.lastWarn.IsZero() && now.Sub(m.lastWarn) < m.cfg.WarnInterval {
		m.warnMu.Unlock()
		return
	}
	m.lastWarn = now
	m.warnMu.Unlock()

	m.stats.IncQueueWarnings()
	log.Warnf("Persistence: write queue depth %d exceeds %d, writes are arriving faster than the store allows (%d tokens available)",
		depth, m.cfg.QueueWarnThreshold, m.bucket.Available())
}

// writeRequest performs a single store write, bounded by WriteTimeout. The
// caller must hold writeMu.
func (m *Manager) writeRequest(ctx context.Context, req *WriteRequest) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()

	start := m.clock.Now()
	err := m.store.Put(ctx, req.Key(), req.Data)
	m.stats.ObserveWriteLatency(req.EntityType, m.clock.Now().Sub(start).Seconds())

	if err != nil {
		m.failed.Add(1)
		m.stats.IncWrites(req.EntityType, "error")
		return err
	}
	m.written.Add(1)
	m.stats.IncWrites(req.EntityType, "ok")
	return nil
}

// GetStats returns the current queue depth and token state
func (m *Manager) GetStats() Stats {
	return Stats{
		QueueDepth:      m.queue.len(),
		AvailableTokens: m.bucket.Available(),
		Capacity:        m.bucket.Capacity(),
	}
}

// SetActiveSessions rescales the token bucket for the given session count
func (m *Manager) SetActiveSessions(count int) {
	m.bucket.ResizeCapacity(count)
	m.stats.SetActiveSessions(float64(count))
	m.stats.SetTokens(float64(m.bucket.Available()), float64(m.bucket.Capacity()))
}

// Start runs the queue processor and the status logger until Stop is called
// or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.ProcessLoop(m.ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.statusLoop(m.ctx)
	}()

	log.Infof("Persistence manager started (capacity %d, +%d per session, 1 token per %s)",
		m.cfg.BaseCapacity, m.cfg.PerSessionCapacity, m.cfg.RegenInterval)
}

// Stop ends the processor and waits for an in-flight write to finish.
// Queued writes are left in place for FlushAll.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	log.Info("Persistence manager stopped")
}

// Shutdown stops the processor and drains the queue. Waiting for the
// processor's in-flight write counts against the flush budget.
func (m *Manager) Shutdown(ctx context.Context) FlushSummary {
	start := m.clock.Now()
	m.Stop()
	return m.flushAll(ctx, start)
}

// statusLoop periodically logs queue status
func (m *Manager) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.GetStats()
			written := m.written.Swap(0)
			failed := m.failed.Swap(0)

			m.stats.SetQueueDepth(float64(stats.QueueDepth))
			m.stats.SetTokens(float64(stats.AvailableTokens), float64(stats.Capacity))

			log.Infof("Persistence: %d pending, %d/%d tokens | %d written, %d failed",
				stats.QueueDepth, stats.AvailableTokens, stats.Capacity, written, failed)
		}
	}
}
