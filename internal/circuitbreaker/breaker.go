package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// State represents the current state of a channel's breaker.
//
// State transitions:
//
//	Closed -> Open:      failure count reaches the threshold
//	Open -> HalfOpen:    recovery timeout elapses since the last failure
//	HalfOpen -> Closed:  the probe delivery succeeds
//	HalfOpen -> Open:    the probe delivery fails
type State int

const (
	StateClosed   State = iota // normal dispatch allowed
	StateOpen                  // dispatch blocked
	StateHalfOpen              // one trial dispatch allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when dispatch is blocked for a channel.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the thresholds for one channel breaker.
type Config struct {
	// MaxFailures is the failure count at which the circuit opens.
	MaxFailures int

	// RecoveryTimeout is how long after the last failure a half-open
	// probe becomes available.
	RecoveryTimeout time.Duration

	// MaxOpen is the safety net: a breaker stuck open this long is
	// force-reset by housekeeping even if no probe ever ran.
	MaxOpen time.Duration
}

// DefaultConfig returns the channel-breaker defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures:     5,
		RecoveryTimeout: 5 * time.Minute,
		MaxOpen:         10 * time.Minute,
	}
}

// Breaker gates dispatch for a single delivery channel. One delivery
// failure anywhere on the channel counts against it; one success resets
// the count entirely.
type Breaker struct {
	mu      sync.RWMutex
	channel db.DeliveryMethod
	config  Config
	logger  *zap.Logger

	state           State
	failureCount    int
	lastFailureTime time.Time
	openedAt        time.Time
	probeInFlight   bool
	probeStartedAt  time.Time
}

// New creates a breaker for one channel.
func New(channel db.DeliveryMethod, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 5 * time.Minute
	}
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 10 * time.Minute
	}

	return &Breaker{
		channel: channel,
		config:  cfg,
		logger:  logger,
		state:   StateClosed,
	}
}

// Allow reports whether a dispatch may proceed on this channel. In the
// open state one probe becomes available once the recovery timeout has
// elapsed since the last failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.state = StateHalfOpen
			b.probeInFlight = true
			b.probeStartedAt = time.Now()
			b.logger.Info("circuit breaker allowing probe dispatch",
				zap.String("channel", string(b.channel)),
			)
			return true
		}
		return false

	case StateHalfOpen:
		// A probe whose outcome never comes back (the dispatch lost
		// its claim, or the process handling it died) would block the
		// channel forever. Treat it as lost after the recovery timeout
		// and hand the probe to this caller.
		if b.probeInFlight && time.Since(b.probeStartedAt) >= b.config.RecoveryTimeout {
			b.logger.Warn("circuit breaker probe never reported, re-granting",
				zap.String("channel", string(b.channel)),
			)
			b.probeInFlight = false
		}
		if !b.probeInFlight {
			b.probeInFlight = true
			b.probeStartedAt = time.Now()
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess zeroes the failure count. A half-open probe success
// closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state != StateClosed {
		b.state = StateClosed
		b.probeInFlight = false
		b.logger.Info("circuit breaker closed, channel recovered",
			zap.String("channel", string(b.channel)),
		)
	}
}

// RecordFailure counts a delivery failure. The circuit opens once the
// threshold is reached; a failed half-open probe reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.MaxFailures {
			b.state = StateOpen
			b.openedAt = time.Now()
			b.logger.Warn("circuit breaker opened",
				zap.String("channel", string(b.channel)),
				zap.Int("failures", b.failureCount),
				zap.Int("threshold", b.config.MaxFailures),
			)
		}

	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
		b.probeInFlight = false
		b.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("channel", string(b.channel)),
		)
	}
}

// ResetIfStale force-closes a breaker that has been out of the closed
// state longer than MaxOpen: open breakers whose probe never ran, and
// half-open breakers whose probe never reported back. Returns true
// when a reset happened.
func (b *Breaker) ResetIfStale(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var since time.Time
	switch b.state {
	case StateOpen:
		since = b.openedAt
	case StateHalfOpen:
		since = b.probeStartedAt
	default:
		return false
	}
	if now.Sub(since) < b.config.MaxOpen {
		return false
	}

	b.state = StateClosed
	b.failureCount = 0
	b.probeInFlight = false
	b.logger.Warn("circuit breaker force-reset after blocking too long",
		zap.String("channel", string(b.channel)),
		zap.Duration("blocked_for", now.Sub(since)),
	)
	return true
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureCount
}

// Snapshot is a point-in-time view for stats endpoints.
type Snapshot struct {
	Channel      db.DeliveryMethod `json:"channel"`
	State        string            `json:"state"`
	FailureCount int               `json:"failure_count"`
	LastFailure  string            `json:"last_failure,omitempty"`
}

// Snapshot returns the breaker's current state for reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Snapshot{
		Channel:      b.channel,
		State:        b.state.String(),
		FailureCount: b.failureCount,
	}
	if !b.lastFailureTime.IsZero() {
		s.LastFailure = b.lastFailureTime.Format(time.RFC3339)
	}
	return s
}

// String returns a human-readable representation.
func (b *Breaker) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("Breaker[%s] state=%s failures=%d/%d",
		b.channel, b.state, b.failureCount, b.config.MaxFailures)
}
