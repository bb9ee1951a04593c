package protocol

import (
	"time"

	"github.com/shubham-shewale/market-stream/pkg/models"
)

const (
	FrameAttached  = "attached"
	FrameTick      = "tick"
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

// Frame is one server-to-consumer message. Tick frames carry one record per
// symbol that had a live value this push cycle; symbols with no fresh data
// are simply absent, never errors.
type Frame struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Symbols   []string           `json:"symbols,omitempty"` // echoed on attach
	Ticks     []models.PriceTick `json:"ticks,omitempty"`
	Message   string             `json:"message,omitempty"`
	At        time.Time          `json:"at"`
}

func Attached(sessionID string, symbols []string, now time.Time) Frame {
	return Frame{Type: FrameAttached, SessionID: sessionID, Symbols: symbols, At: now}
}

func Heartbeat(now time.Time) Frame {
	return Frame{Type: FrameHeartbeat, At: now}
}

func TickFrame(ticks []models.PriceTick, now time.Time) Frame {
	return Frame{Type: FrameTick, Ticks: ticks, At: now}
}

func Error(msg string, now time.Time) Frame {
	return Frame{Type: FrameError, Message: msg, At: now}
}
