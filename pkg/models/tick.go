package models

import (
	"strings"
	"time"
)

// PriceTick represents a single normalized market update for one instrument.
// Optional fields are pointers: nil means "not present in this update", which
// matters when partial updates (e.g. a bid-only quote) are merged into an
// existing cached tick.
type PriceTick struct {
	Symbol     string    `json:"symbol"`
	Price      *float64  `json:"price,omitempty"`
	Bid        *float64  `json:"bid,omitempty"`
	Ask        *float64  `json:"ask,omitempty"`
	Volume     *int64    `json:"volume,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// NormalizeSymbol maps raw instrument identifiers to the canonical
// uppercase form used as the cache key everywhere in the system.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Valid reports whether the tick is usable at all. A tick without a symbol,
// without any price field, or with a negative price is dropped at ingest.
func (t PriceTick) Valid() bool {
	if t.Symbol == "" {
		return false
	}
	if t.Price == nil && t.Bid == nil && t.Ask == nil {
		return false
	}
	if t.Price != nil && *t.Price < 0 {
		return false
	}
	if t.Bid != nil && *t.Bid < 0 {
		return false
	}
	if t.Ask != nil && *t.Ask < 0 {
		return false
	}
	return true
}

// Merge combines this update with the previously cached tick for the same
// symbol. Fields absent from the new update keep their prior values;
// ObservedAt always advances to the newer update's time.
func (t PriceTick) Merge(prev PriceTick) PriceTick {
	out := t
	if out.Price == nil {
		out.Price = prev.Price
	}
	if out.Bid == nil {
		out.Bid = prev.Bid
	}
	if out.Ask == nil {
		out.Ask = prev.Ask
	}
	if out.Volume == nil {
		out.Volume = prev.Volume
	}
	return out
}

// Float64 returns a pointer to v, for building ticks inline.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
