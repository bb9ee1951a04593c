package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/feedgen/internal/feedgen"
	"github.com/shubham-shewale/market-stream/pkg/config"
)

var tickers = []string{"AAPL", "GOOG", "TSLA", "AMZN", "MSFT"}

var basePrices = map[string]float64{
	"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0, "MSFT": 310.0,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	clock := feedgen.RealClock{}
	dialer := &feedgen.RealKafkaDialer{Dialer: kafka.DefaultDialer}
	feedgen.NewTopicCreator(logger, dialer, clock).Create(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Batching keeps network IO down at tick rates
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	rnd := feedgen.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	gen := feedgen.NewTickGenerator(logger, writer, tickers, basePrices, rnd, clock)

	ctx, cancel := context.WithCancel(context.Background())
	go gen.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	if err := writer.Close(); err != nil {
		logger.Error("Error closing writer", zap.Error(err))
	}
	logger.Info("Feed generator exited cleanly")
}
