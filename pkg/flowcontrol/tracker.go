package flowcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vesseldb/vessel-go/pkg/events"
)

// Prometheus metrics for flow control tracking.
var (
	backoffSecondsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vessel_backoff_seconds_remaining",
		Help: "Seconds left in the current server-requested backoff window",
	})

	deprecationAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vessel_deprecation_alerts_total",
		Help: "Total number of deprecation alerts received from the server",
	})

	backoffWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vessel_backoff_waits_total",
		Help: "Total number of callers paused by Wait during a backoff window",
	})
)

// Tracker observes flow control events and gates work during backoff
// windows. State is kept in memory and optionally mirrored to Redis so
// multiple processes sharing one remote observe the same hold-off.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.RWMutex
	state State
}

// NewTracker creates a flow control tracker. redisClient may be nil for
// purely in-process tracking.
func NewTracker(redisClient *redis.Client) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: log.With().Str("component", "flowcontrol").Logger(),
	}
}

// Bind subscribes the tracker to the emitter's backoff, retry-after and
// deprecation events. The returned function removes all subscriptions.
func (t *Tracker) Bind(emitter events.Emitter) func() {
	offBackoff := emitter.On(events.EventBackoff, func(payload any) {
		t.observeBackoff(events.BackoffAt(payload))
	})
	offRetry := emitter.On(events.EventRetryAfter, func(payload any) {
		t.observeRetryAfter(events.BackoffAt(payload))
	})
	offAlert := emitter.On(events.EventDeprecated, func(payload any) {
		alert, ok := payload.(events.Alert)
		if !ok {
			return
		}
		t.observeAlert(alert)
	})

	return func() {
		offBackoff()
		offRetry()
		offAlert()
	}
}

// State returns a snapshot of the current flow control state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// BackoffRemaining returns the time left in the active hold-off, 0 if none.
func (t *Tracker) BackoffRemaining() time.Duration {
	state := t.State()
	return state.BackoffRemaining()
}

// LastAlert returns the most recent deprecation alert, nil if none.
func (t *Tracker) LastAlert() *events.Alert {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.LastAlert
}

// Wait blocks until the active backoff window ends or ctx is done.
// It returns immediately when no backoff is active.
func (t *Tracker) Wait(ctx context.Context) error {
	remaining := t.BackoffRemaining()
	if remaining <= 0 {
		return nil
	}

	backoffWaitsTotal.Inc()
	t.logger.Warn().
		Dur("wait_duration", remaining).
		Msg("Server requested backoff - pausing")

	select {
	case <-time.After(remaining):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load refreshes the in-memory state from Redis. A missing shared state is
// not an error; the in-memory state is left untouched.
func (t *Tracker) Load(ctx context.Context) error {
	if t.redis == nil {
		return nil
	}

	raw, err := t.redis.Get(ctx, RedisKeyLastAlert).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("get last alert: %w", err)
	}

	backoffUnixMilli, err := t.redis.Get(ctx, RedisKeyBackoffUntil).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("get backoff until: %w", err)
	}
	if err == redis.Nil && raw == "" {
		t.logger.Debug().Msg("No flow control state in Redis")
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if backoffUnixMilli > 0 {
		t.state.BackoffUntil = time.UnixMilli(backoffUnixMilli)
	}
	if raw != "" {
		var alert events.Alert
		if err := json.Unmarshal([]byte(raw), &alert); err != nil {
			return fmt.Errorf("parse last alert: %w", err)
		}
		t.state.LastAlert = &alert
	}
	t.state.LastUpdate = time.Now()
	return nil
}

func (t *Tracker) observeBackoff(until time.Time) {
	if until.IsZero() {
		return
	}

	t.mu.Lock()
	if until.After(t.state.BackoffUntil) {
		t.state.BackoffUntil = until
	}
	t.state.LastUpdate = time.Now()
	t.mu.Unlock()

	backoffSecondsRemaining.Set(time.Until(until).Seconds())
	t.logger.Warn().
		Time("backoff_until", until).
		Msg("Backoff window updated")

	t.persistBackoff(until)
}

func (t *Tracker) observeRetryAfter(wakeAt time.Time) {
	t.mu.Lock()
	t.state.RetryAfterWaits++
	t.state.LastUpdate = time.Now()
	t.mu.Unlock()

	t.logger.Info().
		Time("wake_at", wakeAt).
		Msg("Retry-After pause observed")
}

func (t *Tracker) observeAlert(alert events.Alert) {
	t.mu.Lock()
	t.state.LastAlert = &alert
	t.state.LastUpdate = time.Now()
	t.mu.Unlock()

	deprecationAlertsTotal.Inc()
	t.logger.Warn().
		Str("code", alert.Code).
		Str("url", alert.URL).
		Str("message", alert.Message).
		Msg("Deprecation alert received")

	t.persistAlert(alert)
}

func (t *Tracker) persistBackoff(until time.Time) {
	if t.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := t.redis.Set(ctx, RedisKeyBackoffUntil, until.UnixMilli(), 0).Err(); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist backoff state")
	}
}

func (t *Tracker) persistAlert(alert events.Alert) {
	if t.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := json.Marshal(alert)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to marshal alert")
		return
	}
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyLastAlert, payload, 0)
	pipe.Set(ctx, RedisKeyLastUpdate, time.Now().UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist alert state")
	}
}
