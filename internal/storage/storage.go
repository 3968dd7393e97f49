// Package storage remembers which feed items were already delivered so the
// scheduled harvester does not republish them on every pass.
package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store tracks keys of items already published downstream. Entries expire
// after the configured TTL.
type Store interface {
	Close() error
	SeenItem(id string) (bool, error)
	MarkItem(id string) error
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	ItemTTL         time.Duration
	CleanupInterval time.Duration
}

const (
	defaultItemTTL         = 5 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// Supported storage types.
const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeBBolt  = "bbolt"
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", TypeNone, "disabled":
		return noopStore{}, nil
	case TypeMemory:
		return newMemoryStore(opts), nil
	case TypeBBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		store, err := openBolt(path, opts)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.ItemTTL <= 0 {
		opts.ItemTTL = defaultItemTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                  { return nil }
func (noopStore) SeenItem(string) (bool, error) { return false, nil }
func (noopStore) MarkItem(string) error         { return nil }

// memoryStore keeps expiries in a map; contents are lost on restart.
type memoryStore struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

func newMemoryStore(opts Options) *memoryStore {
	return &memoryStore{
		expiry:  make(map[string]time.Time),
		ttl:     opts.ItemTTL,
		now:     time.Now,
		lastGC:  time.Now(),
		gcEvery: opts.CleanupInterval,
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) SeenItem(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.gcLocked(now)
	exp, ok := m.expiry[id]
	if !ok {
		return false, nil
	}
	if !exp.After(now) {
		delete(m.expiry, id)
		return false, nil
	}
	return true, nil
}

func (m *memoryStore) MarkItem(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.gcLocked(now)
	m.expiry[id] = now.Add(m.ttl)
	return nil
}

func (m *memoryStore) gcLocked(now time.Time) {
	if now.Sub(m.lastGC) < m.gcEvery {
		return
	}
	for id, exp := range m.expiry {
		if !exp.After(now) {
			delete(m.expiry, id)
		}
	}
	m.lastGC = now
}
