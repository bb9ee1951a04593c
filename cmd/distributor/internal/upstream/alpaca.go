package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

// Compile-time check
var _ Provider = (*AlpacaProvider)(nil)

// AlpacaProvider speaks the Alpaca-style streaming protocol over a websocket:
// an auth message after connect, subscribe/unsubscribe actions with trade and
// quote channel lists, and JSON arrays of events coming back.
type AlpacaProvider struct {
	endpoint  string
	apiKey    string
	apiSecret string
	timeout   time.Duration
	logger    *zap.Logger
	handlers  Handlers

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
}

func NewAlpacaProvider(cfg *config.Config, logger *zap.Logger, handlers Handlers) *AlpacaProvider {
	return &AlpacaProvider{
		endpoint:  cfg.Upstream.Endpoint,
		apiKey:    cfg.Upstream.APIKey,
		apiSecret: cfg.Upstream.APISecret,
		timeout:   time.Duration(cfg.Reconnect.ConnectTimeout) * time.Second,
		logger:    logger,
		handlers:  handlers,
	}
}

func (p *AlpacaProvider) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: p.timeout}
	conn, _, err := dialer.DialContext(ctx, p.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.endpoint, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.closing = false
	p.mu.Unlock()

	if p.apiKey != "" {
		auth := map[string]string{"action": "auth", "key": p.apiKey, "secret": p.apiSecret}
		if err := p.writeJSON(auth); err != nil {
			conn.Close()
			return fmt.Errorf("auth: %w", err)
		}
	}

	go p.readLoop(conn)
	return nil
}

func (p *AlpacaProvider) Disconnect() error {
	p.mu.Lock()
	p.closing = true
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (p *AlpacaProvider) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	return p.writeJSON(map[string]interface{}{
		"action": "subscribe",
		"trades": symbols,
		"quotes": symbols,
	})
}

func (p *AlpacaProvider) Unsubscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	return p.writeJSON(map[string]interface{}{
		"action": "unsubscribe",
		"trades": symbols,
		"quotes": symbols,
	})
}

func (p *AlpacaProvider) writeJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("not connected")
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// readLoop is the single reader for one connection; it forwards every text
// payload and reports the terminal read error exactly once.
func (p *AlpacaProvider) readLoop(conn *websocket.Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			closing := p.closing
			p.mu.Unlock()
			if !closing && p.handlers.OnDisconnect != nil {
				p.handlers.OnDisconnect(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		p.handlers.OnMessage(payload)
	}
}

// alpacaEvent is one element of the JSON event array the feed pushes.
type alpacaEvent struct {
	Type      string   `json:"T"`
	Symbol    string   `json:"S"`
	Price     *float64 `json:"p"`
	Size      *int64   `json:"s"`
	BidPrice  *float64 `json:"bp"`
	AskPrice  *float64 `json:"ap"`
	Timestamp string   `json:"t"`
}

// AlpacaDecoder normalizes trade ("t") and quote ("q") events. Control
// events (success, error, subscription acks) decode to zero ticks.
type AlpacaDecoder struct{}

func (AlpacaDecoder) Decode(raw []byte) ([]models.PriceTick, error) {
	var events []alpacaEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode event array: %w", err)
	}

	var ticks []models.PriceTick
	for _, ev := range events {
		switch ev.Type {
		case "t":
			ticks = append(ticks, models.PriceTick{
				Symbol:     models.NormalizeSymbol(ev.Symbol),
				Price:      ev.Price,
				Volume:     ev.Size,
				ObservedAt: parseEventTime(ev.Timestamp),
			})
		case "q":
			ticks = append(ticks, models.PriceTick{
				Symbol:     models.NormalizeSymbol(ev.Symbol),
				Bid:        ev.BidPrice,
				Ask:        ev.AskPrice,
				ObservedAt: parseEventTime(ev.Timestamp),
			})
		default:
			// success / error / subscription frames carry no price data
		}
	}
	return ticks, nil
}

// parseEventTime returns the zero time when the provider timestamp is absent
// or unparseable; the ingestor substitutes receipt time.
func parseEventTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
