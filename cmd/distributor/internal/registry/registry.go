package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/metrics"
)

// Registry tracks, per symbol, how many live consumer sessions need it. It
// is the single authority on when the upstream connection must gain or shed
// a subscription: Attach reports symbols whose ref-count went 0->1, Detach
// reports 1->0. All mutation happens under one mutex so two concurrent
// attaches can never both observe the 0->1 transition.
type Registry struct {
	logger *zap.Logger

	mu       sync.Mutex
	refCount map[string]int
	sessions map[string][]string // sessionID -> symbols it holds
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		refCount: make(map[string]int),
		sessions: make(map[string][]string),
	}
}

// Attach registers a session's symbol set and returns the symbols that are
// newly needed upstream. A second attach for an already-open session is
// rejected rather than double-counted; the caller must open a new session
// for a different symbol set.
func (r *Registry) Attach(sessionID string, symbols []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, open := r.sessions[sessionID]; open {
		return nil, fmt.Errorf("session %s already attached", sessionID)
	}

	// Dedup within the request so a repeated symbol counts once.
	seen := make(map[string]bool, len(symbols))
	held := make([]string, 0, len(symbols))
	var newlyNeeded []string
	for _, sym := range symbols {
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		held = append(held, sym)

		r.refCount[sym]++
		if r.refCount[sym] == 1 {
			newlyNeeded = append(newlyNeeded, sym)
		}
	}

	r.sessions[sessionID] = held
	metrics.SubscribedSymbols.Set(float64(len(r.refCount)))
	return newlyNeeded, nil
}

// Detach releases everything the session attached and returns the symbols
// no longer needed by anyone. Detaching an unknown session is a no-op; a
// session can only release what it previously took.
func (r *Registry) Detach(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, open := r.sessions[sessionID]
	if !open {
		return nil
	}
	delete(r.sessions, sessionID)

	var released []string
	for _, sym := range held {
		count := r.refCount[sym]
		if count <= 0 {
			// Structurally impossible under the mutex; a negative count
			// means a synchronization bug, not an external condition.
			r.logger.DPanic("Ref-count invariant violated", zap.String("symbol", sym), zap.Int("count", count))
			delete(r.refCount, sym)
			continue
		}
		if count == 1 {
			delete(r.refCount, sym)
			released = append(released, sym)
			continue
		}
		r.refCount[sym] = count - 1
	}

	metrics.SubscribedSymbols.Set(float64(len(r.refCount)))
	return released
}

// CurrentlySubscribed returns every symbol with a positive ref-count. The
// supervisor replays this set upstream after a reconnect.
func (r *Registry) CurrentlySubscribed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.refCount))
	for sym := range r.refCount {
		out = append(out, sym)
	}
	return out
}

// RefCount reports the current count for one symbol.
func (r *Registry) RefCount(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refCount[symbol]
}

// ActiveSessionCount reports how many sessions are attached.
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
