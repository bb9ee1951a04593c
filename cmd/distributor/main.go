package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/gateway"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/ingest"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/registry"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/status"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/store"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/supervisor"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/upstream"
	"github.com/shubham-shewale/market-stream/pkg/config"
)

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

	// Store backend is chosen once here; the process never re-decides.
	priceStore := store.New(cfg, logger)
	reg := registry.NewRegistry(logger)

	// Exactly one ingestor per process; a second would double-subscribe
	// upstream and double-write the cache.
	ingestor, err := ingest.NewIngestor(priceStore, logger)
	if err != nil {
		logger.Fatal("Failed to create ingestor", zap.Error(err))
	}

	provider, decoder, err := upstream.New(cfg, logger, ingestor.Handlers())
	if err != nil {
		logger.Fatal("Failed to create upstream provider", zap.Error(err))
	}
	ingestor.Bind(provider, decoder)

	sup := supervisor.New(provider, ingestor, reg, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	gw := gateway.New(priceStore, reg, ingestor, cfg, logger)

	router := mux.NewRouter()
	router.HandleFunc("/stream", gw.HandleStream)
	router.Handle("/status", status.NewHandler(sup, reg)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", status.Healthz).Methods(http.MethodGet)

	srv := &http.Server{Addr: cfg.App.Port, Handler: router}

	go func() {
		logger.Info("Distributor started",
			zap.String("port", cfg.App.Port),
			zap.String("upstream", cfg.Upstream.Kind),
			zap.String("push_mode", cfg.Stream.PushMode))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	cancel() // stops the supervisor, which disconnects the provider
	ingestor.Close()
	priceStore.Close()

	logger.Info("Shutdown complete")
}
