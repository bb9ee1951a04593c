package upstream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

// fixedRand makes the walk deterministic: Intn always picks index 0 and
// Float64 always returns 0.5.
type fixedRand struct{}

func (fixedRand) Intn(n int) int   { return 0 }
func (fixedRand) Float64() float64 { return 0.5 }

func newSimUnderTest(handlers Handlers) *SimProvider {
	p := NewSimProvider(&config.Config{}, zap.NewNop(), handlers)
	p.rand = fixedRand{}
	return p
}

func TestSimProvider_EmitsOnlySubscribedSymbols(t *testing.T) {
	var mu sync.Mutex
	var payloads [][]byte
	p := newSimUnderTest(Handlers{OnMessage: func(raw []byte) {
		mu.Lock()
		payloads = append(payloads, raw)
		mu.Unlock()
	}})
	p.interval = time.Millisecond

	require.NoError(t, p.Subscribe([]string{"AAPL"}))
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) >= 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, raw := range payloads {
		var tick models.PriceTick
		require.NoError(t, json.Unmarshal(raw, &tick))
		assert.Equal(t, "AAPL", tick.Symbol)
		assert.True(t, tick.Valid())
	}
}

func TestSimProvider_NextPayloadShape(t *testing.T) {
	p := newSimUnderTest(Handlers{OnMessage: func([]byte) {}})

	// Nothing subscribed: nothing to emit.
	assert.Nil(t, p.nextPayload())

	require.NoError(t, p.Subscribe([]string{"TSLA"}))
	raw := p.nextPayload()
	require.NotNil(t, raw)

	var tick models.PriceTick
	require.NoError(t, json.Unmarshal(raw, &tick))
	assert.Equal(t, "TSLA", tick.Symbol)
	require.NotNil(t, tick.Price)
	require.NotNil(t, tick.Bid)
	require.NotNil(t, tick.Ask)
	assert.Less(t, *tick.Bid, *tick.Price)
	assert.Greater(t, *tick.Ask, *tick.Price)
	assert.False(t, tick.ObservedAt.IsZero())
}

func TestSimProvider_WalkMovesPrice(t *testing.T) {
	p := newSimUnderTest(Handlers{OnMessage: func([]byte) {}})
	require.NoError(t, p.Subscribe([]string{"AAPL"}))

	// fixedRand seeds at 50 + 0.5*450 = 275 and adds 0.5*2-1 = 0 each step,
	// so the price holds steady; the point is that the walk state persists
	// between payloads.
	first := p.nextPayload()
	second := p.nextPayload()

	var a, b models.PriceTick
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.Equal(t, *a.Price, *b.Price)
	assert.Equal(t, 275.0, *a.Price)
}

func TestSimProvider_UnsubscribeDropsSymbol(t *testing.T) {
	p := newSimUnderTest(Handlers{OnMessage: func([]byte) {}})

	require.NoError(t, p.Subscribe([]string{"AAPL", "MSFT"}))
	require.NoError(t, p.Unsubscribe([]string{"AAPL"}))

	raw := p.nextPayload()
	require.NotNil(t, raw)
	var tick models.PriceTick
	require.NoError(t, json.Unmarshal(raw, &tick))
	assert.Equal(t, "MSFT", tick.Symbol)

	require.NoError(t, p.Unsubscribe([]string{"MSFT"}))
	assert.Nil(t, p.nextPayload())
}
