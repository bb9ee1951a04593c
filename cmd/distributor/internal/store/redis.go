package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/models"
)

const keyPrefix = "tick:"

// Compile-time check to ensure RedisStore implements PriceStore
var _ PriceStore = (*RedisStore)(nil)

// RedisStore writes through to Redis while keeping a full copy in the
// embedded MemoryStore. Reads hit memory first; Redis only serves entries
// this process has not seen (e.g. right after a restart). All Redis failures
// degrade silently to the memory copy and are logged once per outage window,
// not per operation.
type RedisStore struct {
	client redis.Cmdable
	mem    *MemoryStore
	ttl    time.Duration
	logger *zap.Logger
	clock  Clock

	outageMu sync.Mutex
	down     bool
}

func NewRedisStore(client redis.Cmdable, mem *MemoryStore, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		mem:    mem,
		ttl:    ttl,
		logger: logger,
		clock:  mem.clock,
	}
}

func (r *RedisStore) Set(ctx context.Context, tick models.PriceTick) {
	r.mem.Set(ctx, tick)

	entry := cacheEntry{Tick: tick, ExpiresAt: r.clock.Now().Add(r.ttl)}
	payload, err := json.Marshal(entry)
	if err != nil {
		// A tick that won't marshal is a programming error, not an outage.
		r.logger.Error("Failed to encode cache entry", zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}

	// Physical TTL is padded; the authoritative expiry is the logical
	// ExpiresAt inside the payload, which tolerates backend TTL drift.
	if err := r.client.Set(ctx, keyPrefix+tick.Symbol, payload, r.ttl*2).Err(); err != nil {
		r.markOutage(err)
		return
	}
	r.markRecovered()
}

func (r *RedisStore) Get(ctx context.Context, symbol string) (models.PriceTick, bool) {
	if tick, ok := r.mem.Get(ctx, symbol); ok {
		return tick, true
	}

	raw, err := r.client.Get(ctx, keyPrefix+symbol).Result()
	if err != nil {
		if err != redis.Nil {
			r.markOutage(err)
		}
		return models.PriceTick{}, false
	}
	r.markRecovered()

	return r.decode(symbol, []byte(raw))
}

func (r *RedisStore) GetMany(ctx context.Context, symbols []string) map[string]models.PriceTick {
	out := r.mem.GetMany(ctx, symbols)
	if len(out) == len(symbols) {
		return out
	}

	missing := make([]string, 0, len(symbols)-len(out))
	for _, sym := range symbols {
		if _, ok := out[sym]; !ok {
			missing = append(missing, keyPrefix+sym)
		}
	}

	results, err := r.client.MGet(ctx, missing...).Result()
	if err != nil {
		// Batch reads never partially fail upward: the memory view is the
		// answer when the backend is unreachable.
		r.markOutage(err)
		return out
	}
	r.markRecovered()

	for i, val := range results {
		raw, ok := val.(string)
		if !ok || raw == "" {
			continue
		}
		sym := missing[i][len(keyPrefix):]
		if tick, ok := r.decode(sym, []byte(raw)); ok {
			out[sym] = tick
		}
	}
	return out
}

func (r *RedisStore) Close() error {
	if err := r.mem.Close(); err != nil {
		return err
	}
	if c, ok := r.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}

// decode unpacks a stored entry and enforces the logical expiry.
func (r *RedisStore) decode(symbol string, raw []byte) (models.PriceTick, bool) {
	var e cacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.logger.Warn("Discarding undecodable cache entry", zap.String("symbol", symbol), zap.Error(err))
		return models.PriceTick{}, false
	}
	if e.expired(r.clock.Now()) {
		return models.PriceTick{}, false
	}
	return e.Tick, true
}

func (r *RedisStore) markOutage(err error) {
	r.outageMu.Lock()
	defer r.outageMu.Unlock()
	if !r.down {
		r.down = true
		r.logger.Error("Redis backend unreachable, serving from memory until it recovers", zap.Error(err))
	}
}

func (r *RedisStore) markRecovered() {
	r.outageMu.Lock()
	defer r.outageMu.Unlock()
	if r.down {
		r.down = false
		r.logger.Info("Redis backend recovered")
	}
}
