package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

// PriceStore is the latest-known-price cache. Writes always succeed; reads
// return a miss for anything expired or unknown. Backend trouble never
// surfaces to callers — quote data is disposable and superseded within
// seconds, so the store degrades instead of erroring.
type PriceStore interface {
	Set(ctx context.Context, tick models.PriceTick)
	Get(ctx context.Context, symbol string) (models.PriceTick, bool)
	GetMany(ctx context.Context, symbols []string) map[string]models.PriceTick
	Close() error
}

// Clock abstracts time for deterministic TTL tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// New picks the backend once at startup: Redis-backed when an address is
// configured, in-memory only otherwise. There is no per-call fallback
// decision; the Redis store itself degrades to its memory copy on outages.
func New(cfg *config.Config, logger *zap.Logger) PriceStore {
	mem := NewMemoryStore(cfg.CacheTTL(), time.Duration(cfg.Cache.SweepSec)*time.Second, RealClock{})

	if cfg.Redis.Addr == "" {
		logger.Info("Price store running in-memory only (no redis address configured)")
		return mem
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return NewRedisStore(rdb, mem, cfg.CacheTTL(), logger)
}
