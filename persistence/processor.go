package persistence

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// ProcessLoop drains the queue until ctx is cancelled. It is the only
// rate-limited writer and has at most one write in flight.
// Should be called in a goroutine
func (m *Manager) ProcessLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		wait := m.step(ctx)
		if err := m.clock.Sleep(ctx, wait); err != nil {
			log.Debugf("Persistence: processor exiting, %d writes queued", m.queue.len())
			return
		}
	}
}

// step runs one processor iteration and returns how long to wait before the
// next one.
func (m *Manager) step(ctx context.Context) time.Duration {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.queue.len() == 0 {
		return m.cfg.IdleWait
	}
	if !m.bucket.TryConsume() {
		return m.cfg.NoTokenWait
	}

	req := m.queue.pop()
	if req == nil {
		return m.cfg.IdleWait
	}

	// An in-flight write may finish during shutdown, within WriteTimeout
	if err := m.writeRequest(context.WithoutCancel(ctx), req); err != nil {
		// Dropped: the next mutation of this entity queues a newer snapshot
		log.Warnf("Persistence: write %s failed, dropping: %s", req.Key(), err)
	}
	m.stats.SetQueueDepth(float64(m.queue.len()))

	return m.cfg.WriteSpacing
}
