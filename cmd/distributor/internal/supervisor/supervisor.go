package supervisor

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/metrics"
	"github.com/shubham-shewale/market-stream/cmd/distributor/internal/upstream"
	"github.com/shubham-shewale/market-stream/pkg/config"
)

// State is the process-wide upstream connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Clock abstracts timing for deterministic tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Ingestor is the slice of the ingestor the supervisor drives.
type Ingestor interface {
	Resync(symbols []string) error
	Disconnects() <-chan error
}

// Registry is the slice of the subscription registry the supervisor reads.
type Registry interface {
	CurrentlySubscribed() []string
}

// Supervisor owns the upstream connection lifecycle: it connects, replays the
// currently-needed subscriptions after every (re)connect so reconnection is
// invisible to attached consumers, and backs off exponentially with jitter
// between failures. It never gives up: past the attempt cap it alerts once
// and keeps retrying at the max delay, since the provider may recover on its
// own.
type Supervisor struct {
	provider upstream.Provider
	ingestor Ingestor
	registry Registry
	logger   *zap.Logger
	clock    Clock
	jitter   func() float64

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	stability   time.Duration

	state atomic.Int32
}

func New(p upstream.Provider, ing Ingestor, reg Registry, cfg *config.Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		provider:    p,
		ingestor:    ing,
		registry:    reg,
		logger:      logger,
		clock:       realClock{},
		jitter:      rand.Float64,
		baseDelay:   time.Duration(cfg.Reconnect.BaseDelaySec) * time.Second,
		maxDelay:    time.Duration(cfg.Reconnect.MaxDelaySec) * time.Second,
		maxAttempts: cfg.Reconnect.MaxAttempts,
		stability:   time.Duration(cfg.Reconnect.StabilitySec) * time.Second,
	}
}

// State reports the current connection state for the status endpoint.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Run drives the connection until ctx is cancelled. It blocks; callers start
// it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	attempt := 0
	everConnected := false

	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		s.setState(StateConnecting)
		if err := s.provider.Connect(ctx); err != nil {
			s.logger.Warn("Upstream connect failed", zap.Int("attempt", attempt), zap.Error(err))
			if !s.backoff(ctx, &attempt) {
				return
			}
			continue
		}

		s.setState(StateConnected)
		if everConnected {
			metrics.Reconnects.Inc()
		}
		everConnected = true
		connectedAt := s.clock.Now()

		// Restore the symbols consumers still need. This is what makes a
		// reconnect transparent: no session ever re-attaches.
		symbols := s.registry.CurrentlySubscribed()
		if err := s.ingestor.Resync(symbols); err != nil {
			s.logger.Error("Failed to restore upstream subscriptions", zap.Int("symbols", len(symbols)), zap.Error(err))
		} else {
			s.logger.Info("Upstream connected", zap.Int("symbols", len(symbols)), zap.Int("attempt", attempt))
		}

		select {
		case <-ctx.Done():
			s.provider.Disconnect()
			s.setState(StateDisconnected)
			return
		case err := <-s.ingestor.Disconnects():
			s.logger.Warn("Upstream connection lost", zap.Error(err))
			s.provider.Disconnect()
			s.setState(StateDisconnected)
			// A connection that stayed up for the stability window earns a
			// fresh backoff ladder; a rapid flap does not.
			if s.clock.Now().Sub(connectedAt) >= s.stability {
				attempt = 0
			}
			if !s.backoff(ctx, &attempt) {
				return
			}
		}
	}
}

// backoff sleeps for the current attempt's delay. Returns false when ctx was
// cancelled during the wait.
func (s *Supervisor) backoff(ctx context.Context, attempt *int) bool {
	s.setState(StateBackoff)

	if s.maxAttempts > 0 && *attempt == s.maxAttempts {
		s.logger.Error("Upstream still unreachable after max attempts, retrying at max delay indefinitely",
			zap.Int("attempts", *attempt), zap.Duration("delay", s.maxDelay))
	}

	delay := s.Delay(*attempt)
	*attempt++

	select {
	case <-ctx.Done():
		s.setState(StateDisconnected)
		return false
	case <-s.clock.After(delay):
		return true
	}
}

// Delay computes min(maxDelay, baseDelay*2^attempt) with ±20% jitter.
func (s *Supervisor) Delay(attempt int) time.Duration {
	d := s.baseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= s.maxDelay {
			d = s.maxDelay
			break
		}
	}
	jittered := d + time.Duration((s.jitter()*0.4-0.2)*float64(d))
	if jittered > s.maxDelay {
		jittered = s.maxDelay
	}
	if jittered <= 0 {
		jittered = s.baseDelay
	}
	return jittered
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}
