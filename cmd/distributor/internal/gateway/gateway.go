package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/registry"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/store"
	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

// Subscriber is the slice of the ingestor the gateway drives when sessions
// come and go.
type Subscriber interface {
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
}

// Gateway accepts consumer stream connections. Identity is established
// before this layer (the caller arrives pre-authenticated); the gateway only
// validates the requested symbols, registers the session, and runs its push
// loop until the connection dies.
type Gateway struct {
	store    store.PriceStore
	registry *registry.Registry
	ingestor Subscriber
	logger   *zap.Logger

	pushInterval time.Duration
	heartbeat    time.Duration
	pushMode     string
	validTickers map[string]bool // empty allows all
}

func New(st store.PriceStore, reg *registry.Registry, ing Subscriber, cfg *config.Config, logger *zap.Logger) *Gateway {
	valid := make(map[string]bool, len(cfg.Stream.ValidTickers))
	for _, t := range cfg.Stream.ValidTickers {
		valid[models.NormalizeSymbol(t)] = true
	}
	return &Gateway{
		store:        st,
		registry:     reg,
		ingestor:     ing,
		logger:       logger,
		pushInterval: cfg.PushInterval(),
		heartbeat:    cfg.HeartbeatInterval(),
		pushMode:     cfg.Stream.PushMode,
		validTickers: valid,
	}
}

// HandleStream upgrades the connection and starts a consumer session. The
// symbol set comes from the query string and is immutable for the session's
// lifetime; a consumer that wants a different set opens a new connection.
func (g *Gateway) HandleStream(w http.ResponseWriter, r *http.Request) {
	symbols := g.parseSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		http.Error(w, "no valid symbols requested", http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	session := newSession(conn, symbols, g)

	newlyNeeded, err := g.registry.Attach(session.id, symbols)
	if err != nil {
		// Remote addr collisions should not happen; refuse rather than
		// corrupt the ref-counts.
		g.logger.Error("Failed to attach session", zap.String("session", session.id), zap.Error(err))
		conn.Close()
		return
	}
	if err := g.ingestor.Subscribe(newlyNeeded); err != nil {
		g.logger.Error("Upstream subscribe failed", zap.Strings("symbols", newlyNeeded), zap.Error(err))
	}

	g.logger.Info("Consumer attached",
		zap.String("session", session.id),
		zap.Strings("symbols", symbols),
		zap.Int("newly_needed", len(newlyNeeded)))

	session.Start()
}

// detach runs exactly once per session, from whichever pump notices the
// connection is gone. Leaked sessions would pin upstream subscriptions
// forever, so this is the only path that decrements ref-counts.
func (g *Gateway) detach(s *Session) {
	released := g.registry.Detach(s.id)
	if err := g.ingestor.Unsubscribe(released); err != nil {
		g.logger.Error("Upstream unsubscribe failed", zap.Strings("symbols", released), zap.Error(err))
	}
	g.logger.Info("Consumer detached", zap.String("session", s.id), zap.Int("released", len(released)))
}

func (g *Gateway) parseSymbols(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		sym := models.NormalizeSymbol(part)
		if sym == "" || seen[sym] {
			continue
		}
		if len(g.validTickers) > 0 && !g.validTickers[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}
