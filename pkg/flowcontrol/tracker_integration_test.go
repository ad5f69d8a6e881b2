package flowcontrol

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vesseldb/vessel-go/pkg/events"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestTracker_SharesStateViaRedis(t *testing.T) {
	redisClient := setupTestRedis(t)

	emitter := events.NewEmitter()
	writer := NewTracker(redisClient)
	defer writer.Bind(emitter)()

	until := time.Now().Add(30 * time.Second).Truncate(time.Millisecond)
	emitter.Emit(events.EventBackoff, until)
	emitter.Emit(events.EventDeprecated, events.Alert{
		Code:    "hard-eol",
		Message: "v0 has been removed",
	})

	reader := NewTracker(redisClient)
	if err := reader.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	state := reader.State()
	if !state.BackoffUntil.Equal(until) {
		t.Errorf("BackoffUntil = %v, want %v", state.BackoffUntil, until)
	}
	if state.LastAlert == nil || state.LastAlert.Code != "hard-eol" {
		t.Errorf("LastAlert = %+v, want code hard-eol", state.LastAlert)
	}
}

func TestTracker_LoadWithEmptyRedis(t *testing.T) {
	redisClient := setupTestRedis(t)

	tracker := NewTracker(redisClient)
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	state := tracker.State()
	if state.InBackoff() {
		t.Error("empty shared state must not start a hold-off")
	}
}
