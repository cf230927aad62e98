package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrFlushIncomplete is returned by FlushSummary.Err when a flush left writes
// unpersisted.
var ErrFlushIncomplete = errors.New("flush incomplete")

// FlushSummary is the outcome of a synchronous drain
type FlushSummary struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Abandoned int           `json:"abandoned"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Err reports failed or abandoned writes as an error wrapping ErrFlushIncomplete
func (s FlushSummary) Err() error {
	if s.Failed == 0 && s.Abandoned == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d failed, %d abandoned", ErrFlushIncomplete, s.Failed, s.Abandoned)
}

func (s FlushSummary) status() string {
	if s.Err() != nil {
		return "incomplete"
	}
	return "ok"
}

// FlushOwner writes every queued request for ownerKey now, in queue order,
// ignoring the token bucket and write spacing. Requests for other owners keep
// their place. Failed writes are not retried.
func (m *Manager) FlushOwner(ctx context.Context, ownerKey string) FlushSummary {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	start := m.clock.Now()
	var summary FlushSummary

	for _, req := range m.queue.removeOwner(ownerKey) {
		if err := m.writeRequest(ctx, req); err != nil {
			summary.Failed++
			log.Errorf("Persistence: flush of %s failed: %s", req.Key(), err)
			continue
		}
		summary.Succeeded++
	}
	summary.Elapsed = m.clock.Now().Sub(start)

	m.stats.SetQueueDepth(float64(m.queue.len()))
	m.stats.IncFlushes("owner", summary.status())
	if summary.Succeeded+summary.Failed > 0 {
		log.Debugf("Persistence: flushed owner %s, %d written, %d failed in %s",
			ownerKey, summary.Succeeded, summary.Failed, summary.Elapsed)
	}
	return summary
}

// FlushAll drains the whole queue in FIFO order, ignoring the token bucket.
// FlushBudget is a hard limit: a write still running when it runs out is
// cancelled and counted as failed, and no new write starts once it has
// elapsed or ctx is done. Whatever is left stays queued and is reported as
// abandoned.
func (m *Manager) FlushAll(ctx context.Context) FlushSummary {
	return m.flushAll(ctx, m.clock.Now())
}

func (m *Manager) flushAll(ctx context.Context, start time.Time) FlushSummary {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	deadline := start.Add(m.cfg.FlushBudget)
	var summary FlushSummary

	pending := m.queue.len()
	if pending > 0 {
		log.Infof("Persistence: flushing %d queued writes (budget %s)", pending, m.cfg.FlushBudget)
	}

	for {
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 || ctx.Err() != nil {
			summary.Abandoned = m.queue.len()
			break
		}
		req := m.queue.pop()
		if req == nil {
			break
		}

		writeCtx, cancel := context.WithTimeout(ctx, remaining)
		err := m.writeRequest(writeCtx, req)
		cancel()
		if err != nil {
			summary.Failed++
			log.Errorf("Persistence: flush of %s failed: %s", req.Key(), err)
			continue
		}
		summary.Succeeded++
	}
	summary.Elapsed = m.clock.Now().Sub(start)

	m.stats.SetQueueDepth(float64(m.queue.len()))
	m.stats.IncFlushes("all", summary.status())

	if summary.Abandoned > 0 {
		m.stats.AddAbandonedWrites(float64(summary.Abandoned))
		log.Errorf("Persistence: flush budget of %s exceeded, ABANDONED %d writes (%d written, %d failed)",
			m.cfg.FlushBudget, summary.Abandoned, summary.Succeeded, summary.Failed)
	} else {
		log.Infof("Persistence: flush complete, %d written, %d failed in %s",
			summary.Succeeded, summary.Failed, summary.Elapsed)
	}
	return summary
}
