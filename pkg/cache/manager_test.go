package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client.
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

func TestManager_SetGet(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("ETag", `"1700000000000"`)

	key := Key{Endpoint: "/buckets/b/collections/c/records"}
	entry := NewEntry(json.RawMessage(`{"data": [{"id": "a"}]}`), headers, 200, time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ETag != entry.ETag {
		t.Errorf("ETag = %q, want %q", got.ETag, entry.ETag)
	}
	if string(got.Body) != string(entry.Body) {
		t.Errorf("Body = %s, want %s", got.Body, entry.Body)
	}
}

func TestManager_GetMiss(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient)

	_, err := manager.Get(context.Background(), Key{Endpoint: "/nothing"})
	if err != ErrCacheMiss {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_ExpiredEntryIsMiss(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient)
	ctx := context.Background()

	key := Key{Endpoint: "/records"}
	entry := &Entry{
		Body:     json.RawMessage(`{}`),
		CachedAt: time.Now().Add(-time.Hour),
		Expires:  time.Now().Add(50 * time.Millisecond),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() error = %v, want ErrCacheMiss after expiry", err)
	}
}

func TestManager_Delete(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient)
	ctx := context.Background()

	key := Key{Endpoint: "/records"}
	entry := NewEntry(json.RawMessage(`{}`), http.Header{}, 200, time.Minute)
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() error = %v, want ErrCacheMiss after delete", err)
	}
}
