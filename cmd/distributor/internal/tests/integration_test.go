package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket" // Gorilla is the test CLIENT; the server speaks gobwas
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/gateway"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/ingest"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/protocol"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/registry"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/status"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/store"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/supervisor"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/testutils"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/upstream"
	"github.com/shubham-shewale/market-stream/pkg/config"
)

// harness is the full core wired the way main does it, with a mock provider
// standing in for the real upstream.
type harness struct {
	server   *httptest.Server
	store    store.PriceStore
	registry *registry.Registry
	ingestor *ingest.Ingestor
	provider *testutils.MockProvider
	sup      *supervisor.Supervisor
	cancel   context.CancelFunc
}

func startCore(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	cfg.Redis.Addr = mr.Addr()

	priceStore := store.New(cfg, logger)
	reg := registry.NewRegistry(logger)

	ing, err := ingest.NewIngestor(priceStore, logger)
	require.NoError(t, err)

	provider := &testutils.MockProvider{}
	ing.Bind(provider, upstream.TickDecoder{})

	sup := supervisor.New(provider, ing, reg, cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	gw := gateway.New(priceStore, reg, ing, cfg, logger)

	router := mux.NewRouter()
	router.HandleFunc("/stream", gw.HandleStream)
	router.Handle("/status", status.NewHandler(sup, reg)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", status.Healthz)

	server := httptest.NewServer(router)

	h := &harness{
		server:   server,
		store:    priceStore,
		registry: reg,
		ingestor: ing,
		provider: provider,
		sup:      sup,
		cancel:   cancel,
	}
	t.Cleanup(func() {
		server.Close()
		cancel()
		ing.Close()
		priceStore.Close()
	})

	require.Eventually(t, func() bool {
		return sup.State() == supervisor.StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	return h
}

func defaultTestConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{TTLSec: 5, SweepSec: 10},
		Stream: config.StreamConfig{
			PushIntervalSec: 1,
			HeartbeatSec:    15,
			PushMode:        config.PushModeSnapshot,
			ValidTickers:    []string{"AAPL", "MSFT", "TSLA"},
		},
		Reconnect: config.ReconnectConfig{
			BaseDelaySec: 1,
			MaxDelaySec:  60,
			MaxAttempts:  10,
			StabilitySec: 30,
		},
	}
}

func connectWS(t *testing.T, serverURL, symbols string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/stream?symbols=" + symbols
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	wsConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return wsConn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var f protocol.Frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func TestIntegration_TickDistribution(t *testing.T) {
	h := startCore(t, defaultTestConfig())

	conn := connectWS(t, h.server.URL, "AAPL,MSFT")
	defer conn.Close()

	attached := readFrame(t, conn)
	assert.Equal(t, protocol.FrameAttached, attached.Type)
	assert.Equal(t, []string{"AAPL", "MSFT"}, attached.Symbols)

	// The attach drove the 0->1 subscriptions to the provider.
	require.Eventually(t, func() bool {
		return len(h.provider.LastSubscribed()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Feed ticks through the same path a provider payload takes.
	h.ingestor.HandleMessage([]byte(`{"symbol":"aapl","price":150.5,"volume":100}`))
	h.ingestor.HandleMessage([]byte(`{"symbol":"MSFT","price":410.25}`))

	seen := map[string]float64{}
	for len(seen) < 2 {
		f := readFrame(t, conn)
		if f.Type != protocol.FrameTick {
			continue
		}
		for _, tick := range f.Ticks {
			if tick.Price != nil {
				seen[tick.Symbol] = *tick.Price
			}
		}
	}
	assert.Equal(t, 150.5, seen["AAPL"])
	assert.Equal(t, 410.25, seen["MSFT"])
}

func TestIntegration_StatusEndpoint(t *testing.T) {
	h := startCore(t, defaultTestConfig())

	conn := connectWS(t, h.server.URL, "AAPL,TSLA")
	defer conn.Close()
	readFrame(t, conn) // attached

	resp, err := http.Get(h.server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st status.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "connected", st.UpstreamState)
	assert.Equal(t, []string{"AAPL", "TSLA"}, st.ActiveSymbols)
	assert.Equal(t, 1, st.ActiveSessionCount)

	health, err := http.Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestIntegration_SharedSymbolRefCounting(t *testing.T) {
	h := startCore(t, defaultTestConfig())

	first := connectWS(t, h.server.URL, "AAPL,MSFT")
	defer first.Close()
	readFrame(t, first)

	second := connectWS(t, h.server.URL, "AAPL")
	readFrame(t, second)

	require.Eventually(t, func() bool {
		return h.registry.ActiveSessionCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, h.registry.RefCount("AAPL"))

	// The second consumer holds only AAPL, which the first still needs:
	// closing it must not unsubscribe anything upstream.
	second.Close()
	require.Eventually(t, func() bool {
		return h.registry.ActiveSessionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.registry.RefCount("AAPL"))
	h.provider.Mu.Lock()
	unsubs := len(h.provider.Unsubscribed)
	h.provider.Mu.Unlock()
	assert.Zero(t, unsubs)
}

func TestIntegration_StaleValuesStopFlowing(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Cache.TTLSec = 1
	cfg.Stream.HeartbeatSec = 2
	h := startCore(t, cfg)

	conn := connectWS(t, h.server.URL, "AAPL")
	defer conn.Close()
	readFrame(t, conn)

	h.ingestor.HandleMessage([]byte(`{"symbol":"AAPL","price":150.5}`))

	// While live, the value is pushed.
	f := readFrame(t, conn)
	for f.Type != protocol.FrameTick {
		f = readFrame(t, conn)
	}
	require.Len(t, f.Ticks, 1)

	// Once the entry expires the pushes stop and the session falls back to
	// heartbeats. At most one more tick frame may already be in flight from
	// the last push cycle before expiry.
	time.Sleep(1200 * time.Millisecond)
	conn.SetReadDeadline(time.Now().Add(6 * time.Second))
	lateTicks := 0
	for {
		f = readFrame(t, conn)
		if f.Type == protocol.FrameHeartbeat {
			break
		}
		if f.Type == protocol.FrameTick {
			lateTicks++
		}
	}
	assert.LessOrEqual(t, lateTicks, 1, "expired value was still distributed")
}

func TestIntegration_ReconnectRestoresSubscriptions(t *testing.T) {
	h := startCore(t, defaultTestConfig())

	conn := connectWS(t, h.server.URL, "AAPL,MSFT")
	defer conn.Close()
	readFrame(t, conn)

	require.Eventually(t, func() bool {
		return len(h.provider.LastSubscribed()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	h.provider.Mu.Lock()
	connectsBefore := h.provider.ConnectCalls
	h.provider.Mu.Unlock()

	// Simulate the upstream dropping the connection.
	h.ingestor.HandleDisconnect(assert.AnError)

	// The supervisor reconnects after backoff and replays the full needed
	// set; the consumer session never re-attaches.
	require.Eventually(t, func() bool {
		h.provider.Mu.Lock()
		defer h.provider.Mu.Unlock()
		return h.provider.ConnectCalls > connectsBefore
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		last := h.provider.LastSubscribed()
		return len(last) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Data flows again through the restored connection.
	h.ingestor.HandleMessage([]byte(`{"symbol":"AAPL","price":151.0}`))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f := readFrame(t, conn)
	for f.Type != protocol.FrameTick {
		f = readFrame(t, conn)
	}
	require.NotEmpty(t, f.Ticks)
	assert.Equal(t, "AAPL", f.Ticks[0].Symbol)
}
