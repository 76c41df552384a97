package circuitbreaker

import (
	"time"

	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// Registry holds one breaker per delivery channel. All breakers share a
// config; state is process-local.
type Registry struct {
	breakers map[db.DeliveryMethod]*Breaker
}

// NewRegistry creates breakers for every delivery method.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	breakers := make(map[db.DeliveryMethod]*Breaker, len(db.Methods()))
	for _, m := range db.Methods() {
		breakers[m] = New(m, cfg, logger)
	}
	return &Registry{breakers: breakers}
}

// Get returns the breaker for a channel.
func (r *Registry) Get(channel db.DeliveryMethod) *Breaker {
	return r.breakers[channel]
}

// Allow reports whether dispatch may proceed on the channel. Unknown
// channels are allowed through; the sender will reject them anyway.
func (r *Registry) Allow(channel db.DeliveryMethod) bool {
	b := r.breakers[channel]
	if b == nil {
		return true
	}
	return b.Allow()
}

// RecordSuccess resets the channel's failure count.
func (r *Registry) RecordSuccess(channel db.DeliveryMethod) {
	if b := r.breakers[channel]; b != nil {
		b.RecordSuccess()
	}
}

// RecordFailure counts a delivery failure against the channel.
func (r *Registry) RecordFailure(channel db.DeliveryMethod) {
	if b := r.breakers[channel]; b != nil {
		b.RecordFailure()
	}
}

// ResetStale force-closes breakers stuck open past their MaxOpen window.
// Returns how many were reset.
func (r *Registry) ResetStale(now time.Time) int {
	reset := 0
	for _, b := range r.breakers {
		if b.ResetIfStale(now) {
			reset++
		}
	}
	return reset
}

// Snapshot returns the state of every breaker, keyed by channel.
func (r *Registry) Snapshot() map[db.DeliveryMethod]Snapshot {
	out := make(map[db.DeliveryMethod]Snapshot, len(r.breakers))
	for m, b := range r.breakers {
		out[m] = b.Snapshot()
	}
	return out
}
