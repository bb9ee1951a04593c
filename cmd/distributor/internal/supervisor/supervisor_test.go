package supervisor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/testutils"
	"github.com/shubham-shewale/market-stream/pkg/config"
)

type fakeIngestor struct {
	mu          sync.Mutex
	resyncs     [][]string
	disconnects chan error
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{disconnects: make(chan error, 1)}
}

func (f *fakeIngestor) Resync(symbols []string) error {
	cp := append([]string(nil), symbols...)
	sort.Strings(cp)
	f.mu.Lock()
	f.resyncs = append(f.resyncs, cp)
	f.mu.Unlock()
	return nil
}

func (f *fakeIngestor) Disconnects() <-chan error { return f.disconnects }

func (f *fakeIngestor) resyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resyncs)
}

func (f *fakeIngestor) resyncAt(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resyncs[i]
}

type fakeRegistry struct{ symbols []string }

func (f *fakeRegistry) CurrentlySubscribed() []string {
	return append([]string(nil), f.symbols...)
}

func testConfig() *config.Config {
	return &config.Config{
		Reconnect: config.ReconnectConfig{
			BaseDelaySec: 1,
			MaxDelaySec:  60,
			MaxAttempts:  5,
			StabilitySec: 30,
		},
	}
}

func newTestSupervisor(p *testutils.MockProvider, ing *fakeIngestor, reg *fakeRegistry) (*Supervisor, *testutils.MockClock) {
	s := New(p, ing, reg, testConfig(), zap.NewNop())
	clock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}
	s.clock = clock
	s.jitter = func() float64 { return 0.5 } // zero jitter
	return s, clock
}

func TestSupervisor_ResubscribesAfterReconnect(t *testing.T) {
	provider := &testutils.MockProvider{}
	ing := newFakeIngestor()
	reg := &fakeRegistry{symbols: []string{"AAPL", "MSFT", "TSLA"}}
	s, _ := newTestSupervisor(provider, ing, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// First connect resyncs the full needed set.
	require.Eventually(t, func() bool { return ing.resyncCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, ing.resyncAt(0))

	// Drop the connection: the supervisor reconnects and resyncs exactly
	// the currently-needed set, with no consumer re-attaching.
	ing.disconnects <- errors.New("connection reset")
	require.Eventually(t, func() bool { return ing.resyncCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, ing.resyncAt(1))
	assert.Equal(t, StateConnected, s.State())

	cancel()
	<-done
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisor_BackoffDelaysNonDecreasing(t *testing.T) {
	provider := &testutils.MockProvider{
		ConnectErrs: []error{
			errors.New("down"), errors.New("down"), errors.New("down"),
			errors.New("down"), errors.New("down"), errors.New("down"),
			errors.New("down"), errors.New("down"),
		},
	}
	ing := newFakeIngestor()
	s, clock := newTestSupervisor(provider, ing, &fakeRegistry{})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		clock.Mu.Lock()
		defer clock.Mu.Unlock()
		return len(clock.Delays) >= 8
	}, time.Second, time.Millisecond)
	cancel()

	clock.Mu.Lock()
	delays := append([]time.Duration(nil), clock.Delays[:8]...)
	clock.Mu.Unlock()

	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1], "delay %d shrank", i)
	}
	// Doubling from 1s caps at the 60s max.
	assert.Equal(t, time.Second, delays[0])
	assert.Equal(t, 60*time.Second, delays[7])
}

func TestSupervisor_AttemptResetOnlyAfterStableConnection(t *testing.T) {
	provider := &testutils.MockProvider{}
	ing := newFakeIngestor()
	s, clock := newTestSupervisor(provider, ing, &fakeRegistry{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return ing.resyncCount() == 1 }, time.Second, time.Millisecond)

	// Flap almost immediately: the attempt counter must survive, so the
	// next backoff is longer than base.
	ing.disconnects <- errors.New("flap")
	require.Eventually(t, func() bool { return ing.resyncCount() == 2 }, time.Second, time.Millisecond)

	ing.disconnects <- errors.New("flap")
	require.Eventually(t, func() bool { return ing.resyncCount() == 3 }, time.Second, time.Millisecond)

	clock.Mu.Lock()
	require.GreaterOrEqual(t, len(clock.Delays), 2)
	first, second := clock.Delays[0], clock.Delays[1]
	clock.Mu.Unlock()
	assert.Equal(t, time.Second, first)
	assert.Equal(t, 2*time.Second, second, "rapid flaps must not reset backoff")

	// Stay connected past the stability window, then drop: backoff starts
	// over at base delay.
	clock.Advance(31 * time.Second)
	ing.disconnects <- errors.New("late failure")
	require.Eventually(t, func() bool { return ing.resyncCount() == 4 }, time.Second, time.Millisecond)

	clock.Mu.Lock()
	third := clock.Delays[2]
	clock.Mu.Unlock()
	assert.Equal(t, time.Second, third)
}

func TestSupervisor_DelayJitterBounds(t *testing.T) {
	s := New(&testutils.MockProvider{}, newFakeIngestor(), &fakeRegistry{}, testConfig(), zap.NewNop())

	for attempt := 0; attempt < 10; attempt++ {
		for trial := 0; trial < 50; trial++ {
			d := s.Delay(attempt)
			assert.Greater(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 60*time.Second)
		}
	}
}
