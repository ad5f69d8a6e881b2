// Package cache provides an optional Redis-backed response cache for Vessel
// GET operations.
//
// Vessel responses carry a quoted ETag but no freshness header, so entries
// are stored with a configurable TTL and revalidated with conditional
// requests once stale:
//
//   - 200 responses with an ETag are stored under a deterministic
//     endpoint+query key
//   - subsequent GETs send If-None-Match with the cached ETag
//   - a 304 Not Modified serves the cached body without re-transfer
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Endpoint: "/buckets/blog/collections/posts/records",
//		Query:    url.Values{"_sort": []string{"-last_modified"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the server
//	}
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - vessel_cache_hits_total{layer="redis"} - Cache hits
//   - vessel_cache_misses_total - Cache misses
//   - vessel_304_responses_total - Conditional request revalidations
//   - vessel_cache_errors_total{operation} - Cache operation errors
package cache
