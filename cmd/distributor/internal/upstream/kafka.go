package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

// Compile-time check
var _ Provider = (*KafkaProvider)(nil)

// TickReader abstracts the Kafka consumer for tests.
type TickReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaProvider treats a tick topic as the upstream feed. Kafka has no
// server-side per-symbol subscription, so subscribe/unsubscribe maintain a
// client-side filter and everything else on the topic is discarded before it
// reaches the ingestor. Message keys carry the symbol, so filtering does not
// require decoding the payload.
type KafkaProvider struct {
	cfg      *config.Config
	logger   *zap.Logger
	handlers Handlers

	newReader func() TickReader

	mu      sync.Mutex
	wanted  map[string]bool
	reader  TickReader
	cancel  context.CancelFunc
	closing bool
}

func NewKafkaProvider(cfg *config.Config, logger *zap.Logger, handlers Handlers) *KafkaProvider {
	return &KafkaProvider{
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
		wanted:   make(map[string]bool),
		newReader: func() TickReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:  cfg.Kafka.Brokers,
				Topic:    cfg.Kafka.Topic,
				GroupID:  cfg.Kafka.GroupID,
				MinBytes: 200,
				MaxBytes: 10e6,
				MaxWait:  200 * time.Millisecond,
			})
		},
	}
}

func (p *KafkaProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.reader != nil {
		p.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	reader := p.newReader()
	loopCtx, cancel := context.WithCancel(ctx)
	p.reader = reader
	p.cancel = cancel
	p.closing = false
	p.mu.Unlock()

	go p.readLoop(loopCtx, reader)
	return nil
}

func (p *KafkaProvider) Disconnect() error {
	p.mu.Lock()
	p.closing = true
	reader := p.reader
	cancel := p.cancel
	p.reader = nil
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reader != nil {
		return reader.Close()
	}
	return nil
}

func (p *KafkaProvider) Subscribe(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		p.wanted[sym] = true
	}
	return nil
}

func (p *KafkaProvider) Unsubscribe(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		delete(p.wanted, sym)
	}
	return nil
}

func (p *KafkaProvider) readLoop(ctx context.Context, reader TickReader) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.mu.Lock()
			closing := p.closing
			p.mu.Unlock()
			if !closing && p.handlers.OnDisconnect != nil {
				p.handlers.OnDisconnect(err)
			}
			return
		}

		p.mu.Lock()
		want := p.wanted[models.NormalizeSymbol(string(m.Key))]
		p.mu.Unlock()
		if !want {
			continue
		}

		p.handlers.OnMessage(m.Value)
	}
}

// TickDecoder parses payloads that already carry the canonical tick shape,
// as published by feedgen and the sim provider.
type TickDecoder struct{}

func (TickDecoder) Decode(raw []byte) ([]models.PriceTick, error) {
	var tick models.PriceTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return nil, fmt.Errorf("decode tick: %w", err)
	}
	tick.Symbol = models.NormalizeSymbol(tick.Symbol)
	return []models.PriceTick{tick}, nil
}
