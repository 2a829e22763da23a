package registry

import (
	"context"
	"time"
)

// DefaultPollInterval matches the venue UI's account re-poll cadence.
const DefaultPollInterval = 3 * time.Second

// Run owns the poll timer for the process lifetime. The timer is armed while
// an owner is connected and cleared on disconnect; each tick drives one poll
// cycle. Meant to run in its own goroutine.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		if !r.isConnected() {
			select {
			case <-ctx.Done():
				r.log.Info().Msg("account poller stopped")
				return
			case <-r.rearm:
			}
		}
		ticker := time.NewTicker(interval)
		r.log.Info().Dur("interval", interval).Msg("account poll timer armed")
	armed:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				r.log.Info().Msg("account poller stopped")
				return
			case <-r.disarm:
				break armed
			case <-ticker.C:
				if !r.isConnected() {
					break armed
				}
				if err := r.pollTick(ctx); err != nil {
					r.log.Warn().Err(err).Msg("poll cycle failed")
				}
			}
		}
		ticker.Stop()
		r.log.Info().Msg("account poll timer cleared")
	}
}

// pollTick runs one poll cycle. A group bootstrap that failed (or never ran)
// is retried; a ready group gets a group, price, and active-account refresh.
// Cycles while a bootstrap is already in flight are skipped.
func (r *Registry) pollTick(ctx context.Context) error {
	r.mu.Lock()
	connected := r.connected
	state := r.groupState
	r.mu.Unlock()

	if !connected {
		return nil
	}
	switch state {
	case GroupReady:
		return r.RefreshActive(ctx)
	case GroupLoading:
		return nil
	default:
		return r.Bootstrap(ctx)
	}
}

func (r *Registry) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// armPoller wakes Run's timer after a connect. Any stale disarm signal from a
// preceding disconnect is drained first.
func (r *Registry) armPoller() {
	select {
	case <-r.disarm:
	default:
	}
	select {
	case r.rearm <- struct{}{}:
	default:
	}
}

// disarmPoller clears Run's timer on disconnect.
func (r *Registry) disarmPoller() {
	select {
	case <-r.rearm:
	default:
	}
	select {
	case r.disarm <- struct{}{}:
	default:
	}
}
