package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/metrics"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/protocol"
	"github.com/shubham-shewale/market-stream/pkg/config"
	"github.com/shubham-shewale/market-stream/pkg/models"
)

const maxMessageSize = 64 * 1024

// Session is one connected consumer: an immutable symbol set, a buffered
// send queue, and three pumps (read, write, push). The push pump polls the
// store every interval and forwards whatever is live; the read pump exists
// only to notice the client going away.
type Session struct {
	id      string
	symbols []string
	conn    net.Conn
	gw      *Gateway

	send chan []byte
	done chan struct{}

	// changed-mode state, touched only by the push pump
	lastPushed map[string]models.PriceTick

	detachOnce sync.Once

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newSession(conn net.Conn, symbols []string, gw *Gateway) *Session {
	return &Session{
		id:         conn.RemoteAddr().String(),
		symbols:    symbols,
		conn:       conn,
		gw:         gw,
		send:       make(chan []byte, 256),
		done:       make(chan struct{}),
		lastPushed: make(map[string]models.PriceTick),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (s *Session) Start() {
	metrics.ActiveSessions.Inc()
	s.sendFrame(protocol.Attached(s.id, s.symbols, time.Now()), true)
	go s.writePump()
	go s.readPump()
	go s.pushPump()
}

// teardown is idempotent; whichever pump fails first wins.
func (s *Session) teardown() {
	s.detachOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.gw.detach(s)
		metrics.ActiveSessions.Dec()
	})
}

// sendFrame queues one frame. Tick frames are droppable under backpressure;
// control frames block briefly rather than vanish.
func (s *Session) sendFrame(f protocol.Frame, control bool) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if control {
		select {
		case s.send <- b:
		case <-s.done:
		}
		return
	}
	select {
	case s.send <- b:
	case <-s.done:
	default:
		metrics.FramesDropped.Inc()
	}
}

// pushPump is the distribution loop: every interval it reads the latest
// cached values for the session's symbols and pushes a frame. A cache miss
// is no update this tick, never an error. A heartbeat frame goes out
// whenever the connection has been quiet for the heartbeat interval.
func (s *Session) pushPump() {
	ticker := time.NewTicker(s.gw.pushInterval)
	defer ticker.Stop()

	lastFrame := time.Now()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			snapshot := s.gw.store.GetMany(context.Background(), s.symbols)

			var ticks []models.PriceTick
			switch s.gw.pushMode {
			case config.PushModeChanged:
				ticks = s.changedOnly(snapshot)
			default:
				ticks = sortedTicks(snapshot)
			}

			if len(ticks) > 0 {
				s.sendFrame(protocol.TickFrame(ticks, now), false)
				metrics.FramesPushed.Inc()
				lastFrame = now
			} else if now.Sub(lastFrame) >= s.gw.heartbeat {
				s.sendFrame(protocol.Heartbeat(now), false)
				lastFrame = now
			}
		}
	}
}

// changedOnly keeps only symbols whose value differs from the last push.
func (s *Session) changedOnly(snapshot map[string]models.PriceTick) []models.PriceTick {
	changed := make(map[string]models.PriceTick)
	for sym, tick := range snapshot {
		if prev, ok := s.lastPushed[sym]; ok && equalTicks(prev, tick) {
			continue
		}
		changed[sym] = tick
		s.lastPushed[sym] = tick
	}
	return sortedTicks(changed)
}

func (s *Session) readPump() {
	defer s.teardown()

	s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

	for {
		header, err := ws.ReadHeader(s.conn)
		if err != nil {
			return
		}
		if header.Length > maxMessageSize {
			s.gw.logger.Warn("Consumer message too big", zap.String("session", s.id), zap.Int64("size", header.Length))
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(s.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		case ws.OpText:
			// Symbol sets are immutable per session; inbound commands are
			// not part of the protocol.
			s.sendFrame(protocol.Error("sessions are read-only; reconnect with a new symbol list", time.Now()), true)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		s.teardown()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			s.conn.Write(ws.CompiledClose)
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := wsutil.WriteServerText(s.conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func sortedTicks(m map[string]models.PriceTick) []models.PriceTick {
	if len(m) == 0 {
		return nil
	}
	out := make([]models.PriceTick, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func equalTicks(a, b models.PriceTick) bool {
	return a.Symbol == b.Symbol &&
		equalFloat(a.Price, b.Price) &&
		equalFloat(a.Bid, b.Bid) &&
		equalFloat(a.Ask, b.Ask) &&
		equalInt(a.Volume, b.Volume) &&
		a.ObservedAt.Equal(b.ObservedAt)
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
