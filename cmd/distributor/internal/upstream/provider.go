package upstream

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

// Provider is the narrow capability the core needs from a market-data feed.
// The transport behind it is deliberately unspecified: the alpaca provider
// is a real push websocket, the kafka provider simulates push over a polled
// log, and the sim provider fabricates ticks in-process. Implementations
// must invoke OnMessage from a single goroutine so per-symbol ordering is
// preserved, and must invoke OnDisconnect at most once per Connect.
type Provider interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
}

// Handlers are the callbacks a provider reports into. Both must be set
// before Connect.
type Handlers struct {
	OnMessage    func(raw []byte)
	OnDisconnect func(err error)
}

// Decoder parses a provider-specific wire payload into zero or more ticks.
// Zero ticks with a nil error is normal (control frames, acks); an error
// means the payload was malformed.
type Decoder interface {
	Decode(raw []byte) ([]models.PriceTick, error)
}

// New builds the configured provider and its matching decoder.
func New(cfg *config.Config, logger *zap.Logger, handlers Handlers) (Provider, Decoder, error) {
	switch cfg.Upstream.Kind {
	case config.UpstreamAlpaca:
		return NewAlpacaProvider(cfg, logger, handlers), AlpacaDecoder{}, nil
	case config.UpstreamKafka:
		return NewKafkaProvider(cfg, logger, handlers), TickDecoder{}, nil
	case config.UpstreamSim:
		return NewSimProvider(cfg, logger, handlers), TickDecoder{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown upstream kind %q", cfg.Upstream.Kind)
	}
}
