// Package dispatch is the single chokepoint all Vessel operations pass
// through. The live sink sends requests now; the recording sink queues them
// for a later batch shipment. Selecting the implementation at construction
// keeps batch callbacks from ever observing a half-live client.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vesseldb/vessel-go/pkg/cache"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

// Options tunes one dispatched operation.
type Options struct {
	// RetryBudget bounds Retry-After driven re-sends.
	RetryBudget int

	// Query holds the live-only URL parameters. Ignored when recording.
	Query QueryOptions
}

// Sink accepts one operation. Implementations either execute it immediately
// (LiveSink) or queue it for a batch shipment (RecordingSink).
type Sink interface {
	Execute(ctx context.Context, req transport.Request, opts Options) (*transport.Response, error)
}

// LiveConfig configures a LiveSink.
type LiveConfig struct {
	// Remote is the base URL, version segment included.
	Remote string

	// Transport performs the exchanges.
	Transport *transport.Transport

	// Cache optionally serves conditional GETs. Nil disables caching.
	Cache *cache.Manager

	// CacheTTL bounds how long cached bodies stay fresh without
	// revalidation. Zero falls back to cache.DefaultTTL.
	CacheTTL time.Duration
}

// LiveSink resolves paths against the remote, appends query options and
// delegates to the transport.
type LiveSink struct {
	remote   string
	tr       *transport.Transport
	cache    *cache.Manager
	cacheTTL time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	defaults http.Header
}

// NewLiveSink creates a live sink.
func NewLiveSink(cfg LiveConfig) *LiveSink {
	return &LiveSink{
		remote:   strings.TrimSuffix(cfg.Remote, "/"),
		tr:       cfg.Transport,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		logger:   log.With().Str("component", "dispatch").Logger(),
	}
}

// SetDefaultHeaders replaces the headers merged into every request.
// Caller-supplied headers always win over defaults.
func (s *LiveSink) SetDefaultHeaders(h http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = h.Clone()
}

// Execute sends the request now. Relative paths are resolved against the
// remote; absolute URLs (server-issued continuation links) pass through
// untouched.
func (s *LiveSink) Execute(ctx context.Context, req transport.Request, opts Options) (*transport.Response, error) {
	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = s.remote + req.Path
	}

	target, err := appendQuery(target, opts.Query.Values())
	if err != nil {
		return nil, fmt.Errorf("build request URL: %w", err)
	}

	req.Headers = s.mergeDefaults(req.Headers)

	if s.cache != nil && (req.Method == "" || req.Method == http.MethodGet) {
		return s.executeConditional(ctx, target, req, opts)
	}
	return s.tr.Execute(ctx, target, req, transport.Options{RetryBudget: opts.RetryBudget})
}

// executeConditional revalidates a cached body with If-None-Match and serves
// it back on 304.
func (s *LiveSink) executeConditional(ctx context.Context, target string, req transport.Request, opts Options) (*transport.Response, error) {
	key := cache.Key{Endpoint: req.Path, Query: opts.Query.Values()}

	entry, err := s.cache.Get(ctx, key)
	if err != nil && err != cache.ErrCacheMiss {
		s.logger.Warn().Err(err).Str("endpoint", req.Path).Msg("Cache get error")
	}
	if entry != nil && entry.ETag != "" {
		if req.Headers == nil {
			req.Headers = http.Header{}
		}
		if req.Headers.Get("If-None-Match") == "" {
			req.Headers.Set("If-None-Match", entry.ETag)
		}
	}

	resp, err := s.tr.Execute(ctx, target, req, transport.Options{RetryBudget: opts.RetryBudget})
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusNotModified && entry != nil {
		cache.NotModifiedResponses.Inc()
		s.logger.Debug().Str("endpoint", req.Path).Msg("304 Not Modified - serving cached body")
		return &transport.Response{
			Status:  http.StatusOK,
			Path:    req.Path,
			Body:    entry.Body,
			Headers: entry.Headers,
		}, nil
	}

	if resp.Status == http.StatusOK && resp.Headers.Get("ETag") != "" {
		fresh := cache.NewEntry(resp.Body, resp.Headers, resp.Status, s.cacheTTL)
		if err := s.cache.Set(ctx, key, fresh); err != nil {
			s.logger.Warn().Err(err).Str("endpoint", req.Path).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

func (s *LiveSink) mergeDefaults(h http.Header) http.Header {
	s.mu.RLock()
	defaults := s.defaults
	s.mu.RUnlock()

	if len(defaults) == 0 {
		return h
	}
	merged := defaults.Clone()
	for key, values := range h {
		merged[key] = values
	}
	return merged
}

// RecordingSink queues operations instead of sending them. The returned
// response is always nil; recorded operations are answered when the batch
// ships. Each batch allocates its own sink, never shared or reused.
type RecordingSink struct {
	mu       sync.Mutex
	requests []transport.Request
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Execute appends the request to the queue. Only method, path, headers and
// body survive recording; live-only options are dropped.
func (s *RecordingSink) Execute(_ context.Context, req transport.Request, _ Options) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, transport.Request{
		Method:  req.Method,
		Path:    req.Path,
		Headers: req.Headers.Clone(),
		Body:    req.Body,
	})
	return nil, nil
}

// Requests returns the recorded queue in call order.
func (s *RecordingSink) Requests() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Request, len(s.requests))
	copy(out, s.requests)
	return out
}
