package persistence

import (
	"context"
	"time"
)

// Store is the external durable key-value store. Both calls may fail
// transiently; the persistence layer does not distinguish error kinds.
type Store interface {
	// Put replaces the value at key (last write wins).
	Put(ctx context.Context, key string, value map[string]any) error

	// Get returns the value at key. found is false, with a nil error, when no
	// record exists.
	Get(ctx context.Context, key string) (value map[string]any, found bool, err error)
}

// StorageKey is the persistence identity of an entity instance. It must stay
// stable across restarts.
func StorageKey(entityType, ownerKey string) string {
	return entityType + "_" + ownerKey
}

// WriteRequest is a pending write. Data is a snapshot taken at enqueue time
// and is never modified afterwards.
type WriteRequest struct {
	EntityType string
	OwnerKey   string
	Data       map[string]any
	EnqueuedAt time.Time
}

// Key returns the storage key the request writes to.
func (r *WriteRequest) Key() string {
	return StorageKey(r.EntityType, r.OwnerKey)
}

// Stats is a read-only view for operational monitoring.
type Stats struct {
	QueueDepth      int `json:"queue_depth"`
	AvailableTokens int `json:"available_tokens"`
	Capacity        int `json:"capacity"`
}

// Config holds the tunables of the persistence layer
type Config struct {
	BaseCapacity       int           // Token capacity with no active sessions
	PerSessionCapacity int           // Extra capacity per active session
	RegenInterval      time.Duration // One token is regenerated per interval
	WriteSpacing       time.Duration // Minimum gap after each queued write
	WriteTimeout       time.Duration // Limit for a single store write
	NoTokenWait        time.Duration // Wait when the queue is waiting on tokens
	IdleWait           time.Duration // Wait when the queue is empty
	QueueWarnThreshold int           // Depth above which a warning is logged, 0 = never
	WarnInterval       time.Duration // Minimum gap between depth warnings
	LoadAttempts       int           // Store reads per load before giving up
	LoadBackoff        time.Duration // Wait after the first failed read, doubled each retry
	FlushBudget        time.Duration // Wall-clock limit for FlushAll
}

// DefaultConfig keeps writes around 85% of a 60 + 10/session per minute ceiling.
func DefaultConfig() Config {
	return Config{
		BaseCapacity:       50,
		PerSessionCapacity: 8,
		RegenInterval:      time.Second,
		WriteSpacing:       100 * time.Millisecond,
		WriteTimeout:       5 * time.Second,
		NoTokenWait:        time.Second,
		IdleWait:           500 * time.Millisecond,
		QueueWarnThreshold: 100,
		WarnInterval:       10 * time.Second,
		LoadAttempts:       3,
		LoadBackoff:        500 * time.Millisecond,
		FlushBudget:        28 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseCapacity <= 0 {
		c.BaseCapacity = d.BaseCapacity
	}
	if c.PerSessionCapacity < 0 {
		c.PerSessionCapacity = 0
	}
	if c.RegenInterval <= 0 {
		c.RegenInterval = d.RegenInterval
	}
	if c.WriteSpacing < 0 {
		c.WriteSpacing = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.NoTokenWait <= 0 {
		c.NoTokenWait = d.NoTokenWait
	}
	if c.IdleWait <= 0 {
		c.IdleWait = d.IdleWait
	}
	if c.QueueWarnThreshold < 0 {
		c.QueueWarnThreshold = 0
	}
	if c.WarnInterval < 0 {
		c.WarnInterval = 0
	}
	if c.LoadAttempts <= 0 {
		c.LoadAttempts = d.LoadAttempts
	}
	if c.LoadBackoff <= 0 {
		c.LoadBackoff = d.LoadBackoff
	}
	if c.FlushBudget <= 0 {
		c.FlushBudget = d.FlushBudget
	}
	return c
}
