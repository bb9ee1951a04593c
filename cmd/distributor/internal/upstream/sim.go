package upstream

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

// Compile-time check
var _ Provider = (*SimProvider)(nil)

// Rand provides deterministic values in tests.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// SimProvider fabricates a random-walk feed in-process so the whole pipeline
// runs without any external dependency. Ticks are emitted only for symbols
// that are currently subscribed, through the same raw-payload path the real
// providers use.
type SimProvider struct {
	logger   *zap.Logger
	handlers Handlers
	interval time.Duration
	rand     Rand

	mu      sync.Mutex
	prices  map[string]float64
	symbols []string
	cancel  context.CancelFunc
}

func NewSimProvider(_ *config.Config, logger *zap.Logger, handlers Handlers) *SimProvider {
	return &SimProvider{
		logger:   logger,
		handlers: handlers,
		interval: 100 * time.Millisecond,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:   make(map[string]float64),
	}
}

func (p *SimProvider) Connect(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(loopCtx)
	return nil
}

func (p *SimProvider) Disconnect() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (p *SimProvider) Subscribe(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := p.prices[sym]; ok {
			continue
		}
		// Seed each symbol at an arbitrary base so walks look distinct.
		p.prices[sym] = 50 + p.rand.Float64()*450
		p.symbols = append(p.symbols, sym)
	}
	return nil
}

func (p *SimProvider) Unsubscribe(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		delete(p.prices, sym)
	}
	kept := p.symbols[:0]
	for _, sym := range p.symbols {
		if _, ok := p.prices[sym]; ok {
			kept = append(kept, sym)
		}
	}
	p.symbols = kept
	return nil
}

func (p *SimProvider) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if payload := p.nextPayload(); payload != nil {
				p.handlers.OnMessage(payload)
			}
		}
	}
}

// nextPayload advances one random symbol's walk and encodes it as a tick.
func (p *SimProvider) nextPayload() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.symbols) == 0 {
		return nil
	}

	sym := p.symbols[p.rand.Intn(len(p.symbols))]
	price := p.prices[sym] + (p.rand.Float64()*2 - 1)
	if price < 1 {
		price = 1
	}
	p.prices[sym] = price

	spread := price * 0.001
	tick := models.PriceTick{
		Symbol:     sym,
		Price:      models.Float64(price),
		Bid:        models.Float64(price - spread),
		Ask:        models.Float64(price + spread),
		Volume:     models.Int64(int64(p.rand.Intn(1000) + 1)),
		ObservedAt: time.Now(),
	}

	payload, err := json.Marshal(tick)
	if err != nil {
		p.logger.Error("Failed to encode sim tick", zap.Error(err))
		return nil
	}
	return payload
}
