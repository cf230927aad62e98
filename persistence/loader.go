package persistence

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ErrLoadFailed is wrapped by LoadResult.Err when every read attempt failed
var ErrLoadFailed = errors.New("load failed")

// LoadOutcome tells a caller whether to use loaded data, use defaults, or
// abort the session.
type LoadOutcome int

const (
	// Failed means the store could not be read; starting from defaults would
	// overwrite saved state.
	Failed LoadOutcome = iota
	// Found means a record exists and Data holds it.
	Found
	// NotFound means no record exists; start from defaults.
	NotFound
)

func (o LoadOutcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// LoadResult is the outcome of LoadEntity and the number of store reads it took
type LoadResult struct {
	Outcome  LoadOutcome
	Data     map[string]any // set only for Found
	Attempts int
	Err      error // set only for Failed
}

// LoadEntity reads an entity from the store, retrying transient failures with
// a doubling backoff. The caller is suspended for the whole retry budget; a
// cancelled ctx ends the load early as Failed.
func (m *Manager) LoadEntity(ctx context.Context, entityType, ownerKey string) LoadResult {
	key := StorageKey(entityType, ownerKey)
	backoff := m.cfg.LoadBackoff

	var lastErr error
	attempts := 0
	for attempts < m.cfg.LoadAttempts {
		if attempts > 0 {
			if err := m.clock.Sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
			backoff *= 2
		}

		attempts++
		data, found, err := m.store.Get(ctx, key)
		if err == nil {
			if !found {
				m.stats.IncLoads(entityType, NotFound.String())
				return LoadResult{Outcome: NotFound, Attempts: attempts}
			}
			if data == nil {
				data = map[string]any{}
			}
			m.stats.IncLoads(entityType, Found.String())
			return LoadResult{Outcome: Found, Data: data, Attempts: attempts}
		}

		lastErr = err
		log.Warnf("Persistence: load %s attempt %d/%d failed: %s", key, attempts, m.cfg.LoadAttempts, err)
	}

	m.stats.IncLoads(entityType, Failed.String())
	log.Errorf("Persistence: load %s failed after %d attempts", key, attempts)
	return LoadResult{
		Outcome:  Failed,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %s: %w", ErrLoadFailed, key, lastErr),
	}
}
