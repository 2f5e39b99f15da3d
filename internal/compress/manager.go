package compress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomchat/knowledge/internal/index"
)

const (
	// DefaultCapacity bounds how many concurrent operations keep an
	// ephemeral index alive.
	DefaultCapacity = 5

	// DefaultTTL is the idle time after which an entry's index is reclaimed.
	// It is a resource-reclamation policy, not a request timeout.
	DefaultTTL = 2 * time.Minute

	// disposeTimeout bounds the background deletion of an evicted index.
	disposeTimeout = 30 * time.Second
)

// entry is one cached ephemeral index. The underlying index is exclusively
// owned by the entry and deleted exactly once: synchronously on replacement,
// asynchronously on eviction.
type entry struct {
	params      index.Params
	fingerprint string
	createdAt   time.Time
	lastUsed    time.Time
}

// Manager owns the bounded, time-boxed cache of per-operation ephemeral
// retrieval indexes. It guarantees at most one live index per operation id
// and serializes concurrent Ensure calls for the same id.
type Manager struct {
	client   index.Client
	logger   *slog.Logger
	now      func() time.Time
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	opLocks map[string]*opLock
}

// opLock serializes Ensure calls for one operation id. Refcounted so the
// map entry lives only while callers hold or wait for it.
type opLock struct {
	mu   sync.Mutex
	refs int
}

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*Manager)

// WithCapacity bounds the number of cached entries.
func WithCapacity(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithTTL sets the idle TTL for cached entries.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithManagerClock sets the time source. Injectable for deterministic tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over the given index client.
func NewManager(client index.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:   client,
		logger:   slog.Default(),
		now:      time.Now,
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		entries:  make(map[string]*entry),
		opLocks:  make(map[string]*opLock),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Ensure returns the params of a live ephemeral index for the operation,
// reusing the cached one when its embedding/rerank identity matches the
// policy, replacing it otherwise. The replaced index is deleted before the
// new one is created. Capacity overflow evicts the least-recently-used
// entry; idle entries past the TTL are swept on every call.
//
// Callers must not hold the returned params past the operation's
// completion: a later eviction makes them stale, and retrieval against a
// stale index surfaces index.ErrGone.
func (m *Manager) Ensure(ctx context.Context, operationID string, policy Policy, expectedRawCount int) (index.Params, error) {
	if err := policy.Validate(); err != nil {
		return index.Params{}, err
	}

	// Serialize per operation id: two concurrent Ensure calls for the same
	// id must not both create indexes.
	l := m.lockOperation(operationID)
	defer m.unlockOperation(operationID, l)

	m.sweepExpired()

	fp := policy.fingerprint()
	now := m.now()

	m.mu.Lock()
	e, ok := m.entries[operationID]
	if ok {
		if e.fingerprint == fp {
			e.lastUsed = now
			params := e.params
			m.mu.Unlock()
			return params, nil
		}
		// Config changed: claim the stale entry while still holding the
		// lock, so a concurrent capacity eviction or TTL sweep cannot
		// dispose the same index a second time.
		delete(m.entries, operationID)
	}
	m.mu.Unlock()

	if ok {
		// Delete synchronously so the resource is gone before we provision
		// its replacement; a failed delete only leaks the old collection.
		if err := m.client.Delete(ctx, e.params.ID); err != nil {
			m.logger.Warn("failed to delete superseded ephemeral index",
				"operation_id", operationID, "index_id", e.params.ID, "error", err)
		}
	}

	params := policy.params(uuid.NewString(), expectedRawCount)
	if err := m.client.Create(ctx, params); err != nil {
		return index.Params{}, fmt.Errorf("failed to create ephemeral index: %w", err)
	}

	m.mu.Lock()
	m.entries[operationID] = &entry{
		params:      params,
		fingerprint: fp,
		createdAt:   now,
		lastUsed:    now,
	}
	evicted := m.evictOverCapacityLocked(operationID)
	m.mu.Unlock()

	for id, old := range evicted {
		m.disposeAsync(id, old)
	}

	return params, nil
}

// Forget drops the cache entry for an operation and disposes its index.
// Used when a caller knows the operation is finished for good.
func (m *Manager) Forget(operationID string) {
	m.mu.Lock()
	e, ok := m.entries[operationID]
	if ok {
		delete(m.entries, operationID)
	}
	m.mu.Unlock()

	if ok {
		m.disposeAsync(operationID, e)
	}
}

// Len reports the number of live cache entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) lockOperation(operationID string) *opLock {
	m.mu.Lock()
	l, ok := m.opLocks[operationID]
	if !ok {
		l = &opLock{}
		m.opLocks[operationID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return l
}

func (m *Manager) unlockOperation(operationID string, l *opLock) {
	l.mu.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.opLocks, operationID)
	}
	m.mu.Unlock()
}

// sweepExpired lazily evicts entries idle longer than the TTL.
func (m *Manager) sweepExpired() {
	now := m.now()

	m.mu.Lock()
	var expired map[string]*entry
	for id, e := range m.entries {
		if now.Sub(e.lastUsed) > m.ttl {
			if expired == nil {
				expired = make(map[string]*entry)
			}
			expired[id] = e
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for id, e := range expired {
		m.disposeAsync(id, e)
	}
}

// evictOverCapacityLocked removes least-recently-used entries until the
// cache fits its capacity, never evicting keep. Caller holds m.mu.
func (m *Manager) evictOverCapacityLocked(keep string) map[string]*entry {
	var evicted map[string]*entry
	for len(m.entries) > m.capacity {
		var lruID string
		var lru *entry
		for id, e := range m.entries {
			if id == keep {
				continue
			}
			if lru == nil || e.lastUsed.Before(lru.lastUsed) {
				lruID, lru = id, e
			}
		}
		if lru == nil {
			break
		}
		if evicted == nil {
			evicted = make(map[string]*entry)
		}
		evicted[lruID] = lru
		delete(m.entries, lruID)
	}
	return evicted
}

// disposeAsync deletes an evicted entry's index in the background.
// Disposal failure is an operational concern surfaced through logs; it is
// never escalated to the operation that triggered the eviction.
func (m *Manager) disposeAsync(operationID string, e *entry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
		defer cancel()

		if err := m.client.Delete(ctx, e.params.ID); err != nil {
			m.logger.Warn("failed to delete evicted ephemeral index",
				"operation_id", operationID, "index_id", e.params.ID, "error", err)
		}
	}()
}
