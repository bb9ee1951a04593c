package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/shubham-shewale/market-stream/pkg/models"
)

// MockProvider records subscription traffic and simulates connect failures.
type MockProvider struct {
	Mu           sync.Mutex
	Connected    bool
	ConnectCalls int
	ConnectErrs  []error // consumed one per Connect; nil entries succeed
	Subscribed   [][]string
	Unsubscribed [][]string
}

func (m *MockProvider) Connect(_ context.Context) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.ConnectCalls++
	if len(m.ConnectErrs) > 0 {
		err := m.ConnectErrs[0]
		m.ConnectErrs = m.ConnectErrs[1:]
		if err != nil {
			return err
		}
	}
	m.Connected = true
	return nil
}

func (m *MockProvider) Disconnect() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Connected = false
	return nil
}

func (m *MockProvider) Subscribe(symbols []string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Subscribed = append(m.Subscribed, append([]string(nil), symbols...))
	return nil
}

func (m *MockProvider) Unsubscribe(symbols []string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Unsubscribed = append(m.Unsubscribed, append([]string(nil), symbols...))
	return nil
}

// LastSubscribed returns the most recent subscribe batch.
func (m *MockProvider) LastSubscribed() []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Subscribed) == 0 {
		return nil
	}
	return m.Subscribed[len(m.Subscribed)-1]
}

// MockClock satisfies both the store and supervisor clock interfaces. After
// fires immediately so backoff loops run at test speed; every requested
// delay is recorded for assertions.
type MockClock struct {
	Mu          sync.Mutex
	CurrentTime time.Time
	Delays      []time.Duration
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.Mu.Lock()
	m.CurrentTime = m.CurrentTime.Add(d)
	m.Mu.Unlock()
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	m.Mu.Lock()
	m.Delays = append(m.Delays, d)
	m.CurrentTime = m.CurrentTime.Add(d)
	now := m.CurrentTime
	m.Mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// MockStore is a plain map-backed PriceStore without TTL, for wiring tests
// that don't exercise expiry.
type MockStore struct {
	Mu    sync.Mutex
	Items map[string]models.PriceTick
	Sets  int
}

func NewMockStore() *MockStore {
	return &MockStore{Items: make(map[string]models.PriceTick)}
}

func (m *MockStore) Set(_ context.Context, tick models.PriceTick) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Items[tick.Symbol] = tick
	m.Sets++
}

func (m *MockStore) Get(_ context.Context, symbol string) (models.PriceTick, bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	t, ok := m.Items[symbol]
	return t, ok
}

func (m *MockStore) GetMany(_ context.Context, symbols []string) map[string]models.PriceTick {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make(map[string]models.PriceTick)
	for _, sym := range symbols {
		if t, ok := m.Items[sym]; ok {
			out[sym] = t
		}
	}
	return out
}

func (m *MockStore) Close() error { return nil }
