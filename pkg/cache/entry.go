package cache

import (
	"encoding/json"
	"net/http"
	"time"
)

// DefaultTTL is the fallback freshness window for cached responses.
const DefaultTTL = 5 * time.Minute

// Entry is one cached Vessel response.
type Entry struct {
	// Body is the raw JSON response body.
	Body json.RawMessage `json:"body"`

	// ETag is the quoted change token used for If-None-Match revalidation.
	ETag string `json:"etag"`

	// Status is the HTTP status of the cached response.
	Status int `json:"status"`

	// Headers are the response headers.
	Headers http.Header `json:"headers"`

	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry falls out of the cache.
	Expires time.Time `json:"expires"`
}

// NewEntry builds an entry from a response. A non-positive ttl falls back to
// DefaultTTL.
func NewEntry(body json.RawMessage, headers http.Header, status int, ttl time.Duration) *Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return &Entry{
		Body:     body,
		ETag:     headers.Get("ETag"),
		Status:   status,
		Headers:  headers.Clone(),
		CachedAt: now,
		Expires:  now.Add(ttl),
	}
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
