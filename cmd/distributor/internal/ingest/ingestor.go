package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/metrics"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/store"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/upstream"
)

// ErrAlreadyRunning is returned when a second ingestor is constructed in the
// same process. A duplicate would double-subscribe upstream and double-write
// the cache, so the singleton is enforced at startup.
var ErrAlreadyRunning = errors.New("ingest: an ingestor is already running in this process")

var active atomic.Bool

// Ingestor owns the single upstream feed: it deduplicates subscription
// traffic toward the provider, normalizes incoming payloads, and writes
// ticks into the price store. It never manages connection timing; the
// supervisor does that and consumes the Disconnects channel.
type Ingestor struct {
	store  store.PriceStore
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	provider   upstream.Provider
	decoder    upstream.Decoder
	subscribed map[string]bool

	disconnects chan error
	closeOnce   sync.Once
}

func NewIngestor(st store.PriceStore, logger *zap.Logger) (*Ingestor, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	return &Ingestor{
		store:       st,
		logger:      logger,
		now:         time.Now,
		subscribed:  make(map[string]bool),
		disconnects: make(chan error, 1),
	}, nil
}

// Bind attaches the provider and its decoder. Called once during startup,
// after the provider has been constructed with this ingestor's handlers.
func (i *Ingestor) Bind(p upstream.Provider, d upstream.Decoder) {
	i.mu.Lock()
	i.provider = p
	i.decoder = d
	i.mu.Unlock()
}

// Handlers returns the callbacks to construct the provider with.
func (i *Ingestor) Handlers() upstream.Handlers {
	return upstream.Handlers{
		OnMessage:    i.HandleMessage,
		OnDisconnect: i.HandleDisconnect,
	}
}

// Subscribe forwards only symbols the provider is not already subscribed to.
func (i *Ingestor) Subscribe(symbols []string) error {
	i.mu.Lock()
	fresh := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if !i.subscribed[sym] {
			i.subscribed[sym] = true
			fresh = append(fresh, sym)
		}
	}
	p := i.provider
	i.mu.Unlock()

	if len(fresh) == 0 || p == nil {
		return nil
	}
	return p.Subscribe(fresh)
}

// Unsubscribe forwards only symbols that are currently subscribed.
func (i *Ingestor) Unsubscribe(symbols []string) error {
	i.mu.Lock()
	stale := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if i.subscribed[sym] {
			delete(i.subscribed, sym)
			stale = append(stale, sym)
		}
	}
	p := i.provider
	i.mu.Unlock()

	if len(stale) == 0 || p == nil {
		return nil
	}
	return p.Unsubscribe(stale)
}

// Resync replaces the dedup state and replays the full symbol set to the
// provider. The supervisor calls this after every reconnect, since the new
// connection starts with no subscriptions regardless of what the old one had.
func (i *Ingestor) Resync(symbols []string) error {
	i.mu.Lock()
	i.subscribed = make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		i.subscribed[sym] = true
	}
	p := i.provider
	i.mu.Unlock()

	if len(symbols) == 0 || p == nil {
		return nil
	}
	return p.Subscribe(symbols)
}

// HandleMessage normalizes one raw provider payload into the store.
// Malformed payloads are dropped and counted, never fatal: the next tick
// supersedes whatever was lost.
func (i *Ingestor) HandleMessage(raw []byte) {
	i.mu.Lock()
	decoder := i.decoder
	i.mu.Unlock()
	if decoder == nil {
		return
	}

	ticks, err := decoder.Decode(raw)
	if err != nil {
		metrics.TicksDropped.Inc()
		i.logger.Warn("Dropping malformed upstream payload", zap.Error(err))
		return
	}

	ctx := context.Background()
	for _, tick := range ticks {
		if !tick.Valid() {
			metrics.TicksDropped.Inc()
			continue
		}
		if tick.ObservedAt.IsZero() {
			tick.ObservedAt = i.now()
		}
		// Partial updates (e.g. a quote without a trade price) keep the
		// prior entry's fields; the entry's expiry always advances.
		if prev, ok := i.store.Get(ctx, tick.Symbol); ok {
			tick = tick.Merge(prev)
		}
		i.store.Set(ctx, tick)
		metrics.TicksIngested.Inc()
	}
}

// HandleDisconnect reports a dropped upstream connection to the supervisor.
// The ingestor itself never reconnects.
func (i *Ingestor) HandleDisconnect(err error) {
	select {
	case i.disconnects <- err:
	default:
		// A report is already pending; the supervisor only needs one.
	}
}

// Disconnects delivers at most one pending disconnect report.
func (i *Ingestor) Disconnects() <-chan error {
	return i.disconnects
}

// Close releases the process-wide singleton slot.
func (i *Ingestor) Close() {
	i.closeOnce.Do(func() { active.Store(false) })
}
