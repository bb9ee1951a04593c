package feedgen

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/models"
)

// TickGenerator publishes a random-walk tick stream to the Kafka topic the
// distributor's kafka upstream consumes. Messages are keyed by symbol so the
// consumer can filter without decoding, and so per-symbol order is preserved
// within a partition.
type TickGenerator struct {
	logger  *zap.Logger
	writer  KafkaWriter
	tickers []string
	prices  map[string]float64
	rand    Rand
	clock   Clock
	every   time.Duration
}

func NewTickGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	tickers []string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
) *TickGenerator {
	prices := make(map[string]float64, len(tickers))
	for sym, p := range basePrices {
		prices[sym] = p
	}
	return &TickGenerator{
		logger:  logger,
		writer:  writer,
		tickers: tickers,
		prices:  prices,
		rand:    rnd,
		clock:   clock,
		every:   100 * time.Millisecond,
	}
}

func (g *TickGenerator) Run(ctx context.Context) {
	g.logger.Info("Feed generator started", zap.Strings("tickers", g.tickers))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(g.tickers) == 0 {
				g.clock.Sleep(time.Second)
				continue
			}

			symbol := g.tickers[g.rand.Intn(len(g.tickers))]
			price := g.prices[symbol] + (g.rand.Float64()*10 - 5)
			if price < 1 {
				price = 1
			}
			g.prices[symbol] = price

			spread := price * 0.001
			tick := models.PriceTick{
				Symbol:     symbol,
				Price:      models.Float64(price),
				Bid:        models.Float64(price - spread),
				Ask:        models.Float64(price + spread),
				Volume:     models.Int64(int64(g.rand.Intn(1000) + 1)),
				ObservedAt: g.clock.Now(),
			}

			payload, _ := json.Marshal(tick) // Error ignored for simplicity in loop

			err := g.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(symbol),
				Value: payload,
			})
			if err != nil {
				g.logger.Error("Kafka Write Error", zap.Error(err))
			}

			g.clock.Sleep(g.every)
		}
	}
}
