package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	stripedmutex "github.com/nmvalera/striped-mutex"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"keeper/persistence"
)

var (
	ErrNoSession         = errors.New("no active session")
	ErrSessionExists     = errors.New("session already active")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrDuplicateRegister = errors.New("entity type already registered")
)

// Entity is a persisted per-owner state container
type Entity interface {
	persistence.Persistable
	// Restore applies a stored record on top of the entity's defaults.
	Restore(fields map[string]any) error
}

// Factory creates an entity holding default state
type Factory func() Entity

// Persister is the part of persistence.Manager sessions depend on
type Persister interface {
	QueueWrite(entityType, ownerKey string, entity any)
	LoadEntity(ctx context.Context, entityType, ownerKey string) persistence.LoadResult
	FlushOwner(ctx context.Context, ownerKey string) persistence.FlushSummary
	SetActiveSessions(count int)
}

// Manager owns the live entities of every active session, keyed by storage
// key. Work for one owner is serialized by a striped lock.
type Manager struct {
	persister Persister
	factories map[string]Factory
	typeNames []string

	entities *xsync.MapOf[string, Entity]
	owners   *ttlcache.Cache[string, time.Time]
	locks    *stripedmutex.StripedMutex
}

// NewManager creates a session manager. Sessions untouched for idleTimeout
// are ended once Run is active; zero disables expiry.
func NewManager(persister Persister, idleTimeout time.Duration) *Manager {
	m := &Manager{
		persister: persister,
		factories: make(map[string]Factory),
		entities:  xsync.NewMapOf[string, Entity](),
		locks:     stripedmutex.New(128),
	}

	ttl := ttlcache.NoTTL
	if idleTimeout > 0 {
		ttl = idleTimeout
	}
	m.owners = ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](ttl),
	)
	m.owners.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, time.Time]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		// The eviction callback runs under the cache lock
		go m.expire(item.Key())
	})
	return m
}

// Register adds an entity type loaded for every session. Types cannot contain
// '_' so storage keys stay unambiguous.
func (m *Manager) Register(entityType string, factory Factory) error {
	if entityType == "" || strings.Contains(entityType, "_") || factory == nil {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, entityType)
	}
	if _, ok := m.factories[entityType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegister, entityType)
	}
	m.factories[entityType] = factory
	m.typeNames = append(m.typeNames, entityType)
	slices.Sort(m.typeNames)
	return nil
}

// EntityTypes returns the registered types in load order
func (m *Manager) EntityTypes() []string {
	return slices.Clone(m.typeNames)
}

// Run drives idle expiry until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	go func() {
		defer m.owners.Stop()
		<-ctx.Done()
	}()
	m.owners.Start()
}

func (m *Manager) lock(owner string) func() {
	l, _ := m.locks.GetLock(owner)
	l.Lock()
	return l.Unlock
}

// Begin loads every registered entity for owner. A missing record starts
// from defaults; a failed load aborts the session with nothing registered,
// since continuing would overwrite saved state.
func (m *Manager) Begin(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner", ErrNoSession)
	}
	defer m.lock(owner)()

	if m.owners.Has(owner) {
		return fmt.Errorf("%w: %s", ErrSessionExists, owner)
	}
	// An expired session keeps its entities, and possibly queued writes,
	// until expire has flushed it
	if m.holdsEntities(owner) {
		return fmt.Errorf("%w: %s is still ending", ErrSessionExists, owner)
	}

	loaded := make(map[string]Entity, len(m.typeNames))
	for _, entityType := range m.typeNames {
		entity := m.factories[entityType]()
		result := m.persister.LoadEntity(ctx, entityType, owner)

		switch result.Outcome {
		case persistence.Found:
			if err := entity.Restore(result.Data); err != nil {
				log.Errorf("Session [%s]: stored %s is unreadable: %s", owner, entityType, err)
				return fmt.Errorf("%w: restore %s: %w", persistence.ErrLoadFailed, persistence.StorageKey(entityType, owner), err)
			}
		case persistence.NotFound:
			log.Debugf("Session [%s]: no stored %s, starting from defaults", owner, entityType)
		default:
			log.Errorf("Session [%s]: refusing to start, %s could not be loaded: %s", owner, entityType, result.Err)
			return result.Err
		}
		loaded[entityType] = entity
	}

	for entityType, entity := range loaded {
		m.entities.Store(persistence.StorageKey(entityType, owner), entity)
	}
	m.owners.Set(owner, time.Now(), ttlcache.DefaultTTL)
	m.persister.SetActiveSessions(m.owners.Len())

	log.Infof("Session [%s]: started with %d entities", owner, len(loaded))
	return nil
}

// Mutate applies fn to one entity of an active session and queues the result
// for persistence. Nothing is queued if fn fails.
func (m *Manager) Mutate(owner, entityType string, fn func(Entity) error) error {
	defer m.lock(owner)()

	entity, err := m.entityLocked(owner, entityType)
	if err != nil {
		return err
	}
	if err := fn(entity); err != nil {
		return err
	}
	m.persister.QueueWrite(entityType, owner, entity)
	return nil
}

// Get returns a snapshot of one entity of an active session
func (m *Manager) Get(owner, entityType string) (map[string]any, error) {
	defer m.lock(owner)()

	entity, err := m.entityLocked(owner, entityType)
	if err != nil {
		return nil, err
	}
	return persistence.Snapshot(entity), nil
}

func (m *Manager) entityLocked(owner, entityType string) (Entity, error) {
	// Get also refreshes the idle timeout
	if m.owners.Get(owner) == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, owner)
	}
	if _, ok := m.factories[entityType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	entity, ok := m.entities.Load(persistence.StorageKey(entityType, owner))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, owner)
	}
	return entity, nil
}

// End flushes owner's queued writes and discards its entities. The flush
// summary reports writes that could not be persisted.
func (m *Manager) End(ctx context.Context, owner string) (persistence.FlushSummary, error) {
	defer m.lock(owner)()

	if !m.owners.Has(owner) {
		return persistence.FlushSummary{}, fmt.Errorf("%w: %s", ErrNoSession, owner)
	}

	summary := m.endLocked(ctx, owner)
	m.owners.Delete(owner)
	m.persister.SetActiveSessions(m.owners.Len())
	return summary, nil
}

func (m *Manager) endLocked(ctx context.Context, owner string) persistence.FlushSummary {
	summary := m.persister.FlushOwner(ctx, owner)
	for _, entityType := range m.typeNames {
		m.entities.Delete(persistence.StorageKey(entityType, owner))
	}

	if err := summary.Err(); err != nil {
		log.Errorf("Session [%s]: ended with unsaved state: %s", owner, err)
	} else {
		log.Infof("Session [%s]: ended, %d writes flushed", owner, summary.Succeeded)
	}
	return summary
}

func (m *Manager) holdsEntities(owner string) bool {
	for _, entityType := range m.typeNames {
		if _, ok := m.entities.Load(persistence.StorageKey(entityType, owner)); ok {
			return true
		}
	}
	return false
}

func (m *Manager) expire(owner string) {
	defer m.lock(owner)()

	if m.owners.Has(owner) {
		// Begun again before expiry got the lock
		return
	}
	log.Infof("Session [%s]: idle, ending", owner)
	m.endLocked(context.Background(), owner)
	m.persister.SetActiveSessions(m.owners.Len())
}

// ActiveCount returns the number of active sessions
func (m *Manager) ActiveCount() int {
	return m.owners.Len()
}

// Owners returns the owners of active sessions in sorted order
func (m *Manager) Owners() []string {
	owners := m.owners.Keys()
	slices.Sort(owners)
	return owners
}
