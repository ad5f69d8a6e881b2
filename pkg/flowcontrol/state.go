// Package flowcontrol tracks the server's backoff and deprecation signals.
// It listens on the event emitter for backoff/retry-after notifications and
// exposes the resulting hold-off state so callers can pause work before the
// server starts shedding their requests.
package flowcontrol

import (
	"time"

	"github.com/vesseldb/vessel-go/pkg/events"
)

// Redis keys for flow control state storage.
const (
	RedisKeyBackoffUntil = "vessel:flowcontrol:backoff_until"
	RedisKeyLastAlert    = "vessel:flowcontrol:last_alert"
	RedisKeyLastUpdate   = "vessel:flowcontrol:last_update"
)

// State is the flow control state observed so far. It is shared across
// client instances via Redis when a client is configured.
type State struct {
	// BackoffUntil is when the server-requested hold-off ends. Zero when
	// no backoff is active.
	BackoffUntil time.Time `json:"backoff_until"`

	// LastAlert is the most recent deprecation alert, nil if none was
	// ever received.
	LastAlert *events.Alert `json:"last_alert,omitempty"`

	// RetryAfterWaits counts how many Retry-After pauses were observed.
	RetryAfterWaits int64 `json:"retry_after_waits"`

	// LastUpdate is when this state was last touched. Used to detect
	// stale shared state.
	LastUpdate time.Time `json:"last_update"`
}

// InBackoff reports whether a server-requested hold-off is still active.
func (s *State) InBackoff() bool {
	return time.Now().Before(s.BackoffUntil)
}

// BackoffRemaining returns the time left until the hold-off ends.
// Returns 0 when no backoff is active or it has already expired.
func (s *State) BackoffRemaining() time.Duration {
	remaining := time.Until(s.BackoffUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
