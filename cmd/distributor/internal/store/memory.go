package store

import (
	"context"
	"sync"
	"time"

	"github.com/shubham-shewale/market-stream/pkg/models"
)

// Compile-time check to ensure MemoryStore implements PriceStore
var _ PriceStore = (*MemoryStore)(nil)

type cacheEntry struct {
	Tick      models.PriceTick `json:"tick"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func (e cacheEntry) expired(now time.Time) bool { return !now.Before(e.ExpiresAt) }

// MemoryStore is the in-process backend. TTL is enforced logically on every
// read; a background sweep reclaims expired entries so the read path stays
// O(1) and never blocks on eviction.
type MemoryStore struct {
	ttl   time.Duration
	clock Clock

	mu    sync.RWMutex
	items map[string]cacheEntry

	sweepEvery time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

func NewMemoryStore(ttl, sweepEvery time.Duration, clock Clock) *MemoryStore {
	m := &MemoryStore{
		ttl:        ttl,
		clock:      clock,
		items:      make(map[string]cacheEntry),
		sweepEvery: sweepEvery,
		done:       make(chan struct{}),
	}
	if sweepEvery > 0 {
		go m.sweepLoop()
	}
	return m
}

func (m *MemoryStore) Set(_ context.Context, tick models.PriceTick) {
	entry := cacheEntry{Tick: tick, ExpiresAt: m.clock.Now().Add(m.ttl)}
	m.mu.Lock()
	m.items[tick.Symbol] = entry
	m.mu.Unlock()
}

func (m *MemoryStore) Get(_ context.Context, symbol string) (models.PriceTick, bool) {
	now := m.clock.Now()
	m.mu.RLock()
	e, ok := m.items[symbol]
	m.mu.RUnlock()
	if !ok || e.expired(now) {
		return models.PriceTick{}, false
	}
	return e.Tick, true
}

func (m *MemoryStore) GetMany(_ context.Context, symbols []string) map[string]models.PriceTick {
	now := m.clock.Now()
	out := make(map[string]models.PriceTick, len(symbols))
	m.mu.RLock()
	for _, sym := range symbols {
		if e, ok := m.items[sym]; ok && !e.expired(now) {
			out[sym] = e.Tick
		}
	}
	m.mu.RUnlock()
	return out
}

// Sweep removes expired entries. Exposed for tests; normally driven by the
// background loop.
func (m *MemoryStore) Sweep() {
	now := m.clock.Now()
	m.mu.Lock()
	for sym, e := range m.items {
		if e.expired(now) {
			delete(m.items, sym)
		}
	}
	m.mu.Unlock()
}

// Len reports live (unswept) entries, expired included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.done:
			return
		}
	}
}
