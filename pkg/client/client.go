// Package client is the top-level entry point for talking to a Vessel
// store. It wires the transport, dispatch sinks, response cache, flow
// control and pagination together behind one configuration.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vesseldb/vessel-go/pkg/batch"
	"github.com/vesseldb/vessel-go/pkg/cache"
	"github.com/vesseldb/vessel-go/pkg/dispatch"
	"github.com/vesseldb/vessel-go/pkg/events"
	"github.com/vesseldb/vessel-go/pkg/flowcontrol"
	"github.com/vesseldb/vessel-go/pkg/pagination"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

// SupportedVersion is the only protocol version this client speaks.
const SupportedVersion = "v1"

// DefaultTimeout bounds one exchange when the configuration does not.
const DefaultTimeout = 30 * time.Second

// ServerInfo is the root endpoint document: identity, settings and the
// capabilities the server was built with.
type ServerInfo struct {
	ProjectName    string                `json:"project_name"`
	ProjectVersion string                `json:"project_version"`
	HTTPAPIVersion string                `json:"http_api_version"`
	URL            string                `json:"url"`
	Settings       ServerSettings        `json:"settings"`
	Capabilities   map[string]Capability `json:"capabilities"`
}

// ServerSettings are the operational limits the server publishes.
type ServerSettings struct {
	BatchMaxRequests int  `json:"batch_max_requests"`
	Readonly         bool `json:"readonly"`
}

// Capability describes one optional server feature.
type Capability struct {
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Config holds the client configuration.
type Config struct {
	// Remote is the server base URL including the version segment,
	// e.g. "https://vessel.example.com/v1".
	Remote string

	// Headers are merged into every request. Caller headers win.
	Headers http.Header

	// Timeout bounds one exchange. Zero falls back to DefaultTimeout.
	Timeout time.Duration

	// RetryBudget bounds Retry-After driven re-sends per operation.
	RetryBudget int

	// Events receives deprecation/backoff notifications. A private
	// emitter is created when nil.
	Events events.Emitter

	// Redis enables the response cache and shared flow control state.
	// Optional.
	Redis *redis.Client

	// CacheTTL bounds cached response freshness. Zero falls back to
	// cache.DefaultTTL. Ignored without Redis.
	CacheTTL time.Duration

	// HTTPClient overrides the underlying client. Optional.
	HTTPClient *http.Client
}

// Client orchestrates requests against one Vessel remote.
type Client struct {
	remote      string
	retryBudget int
	sink        *dispatch.LiveSink
	pager       *pagination.Pager
	runner      *batch.Runner
	events      events.Emitter
	flow        *flowcontrol.Tracker
	unbindFlow  func()
	logger      zerolog.Logger

	mu         sync.Mutex
	headers    http.Header
	serverInfo *ServerInfo
}

// ensureVersion checks that the remote targets the supported protocol
// version. The version segment is the last path element of the base URL.
func ensureVersion(remote string) error {
	trimmed := strings.TrimSuffix(remote, "/")
	if trimmed == "" {
		return fmt.Errorf("remote URL is required")
	}
	segments := strings.Split(trimmed, "/")
	version := segments[len(segments)-1]
	if version != SupportedVersion {
		return fmt.Errorf("unsupported server version %q: this client speaks %s only", version, SupportedVersion)
	}
	return nil
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := ensureVersion(cfg.Remote); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	emitter := cfg.Events
	if emitter == nil {
		emitter = events.NewEmitter()
	}

	tr := transport.New(transport.Config{
		Timeout:    timeout,
		Events:     emitter,
		HTTPClient: cfg.HTTPClient,
	})

	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		cacheManager = cache.NewManager(cfg.Redis)
	}

	sink := dispatch.NewLiveSink(dispatch.LiveConfig{
		Remote:    cfg.Remote,
		Transport: tr,
		Cache:     cacheManager,
		CacheTTL:  cfg.CacheTTL,
	})

	flow := flowcontrol.NewTracker(cfg.Redis)
	unbind := flow.Bind(emitter)

	c := &Client{
		remote:      strings.TrimSuffix(cfg.Remote, "/"),
		retryBudget: cfg.RetryBudget,
		sink:        sink,
		pager:       pagination.New(sink),
		runner:      batch.NewRunner(sink),
		events:      emitter,
		flow:        flow,
		unbindFlow:  unbind,
		logger:      log.With().Str("component", "client").Logger(),
	}
	c.SetHeaders(cfg.Headers)
	return c, nil
}

// Close releases the client's event subscriptions.
func (c *Client) Close() {
	if c.unbindFlow != nil {
		c.unbindFlow()
	}
}

// Events returns the emitter the client notifies on.
func (c *Client) Events() events.Emitter {
	return c.events
}

// SetHeaders replaces the default headers and drops the cached server
// metadata, since changed credentials may expose different settings.
func (c *Client) SetHeaders(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		h = http.Header{}
	}
	c.headers = h.Clone()
	c.serverInfo = nil
	c.sink.SetDefaultHeaders(h)
}

// Execute sends one request through the live sink.
func (c *Client) Execute(ctx context.Context, req transport.Request, query dispatch.QueryOptions) (*transport.Response, error) {
	return c.sink.Execute(ctx, req, dispatch.Options{
		RetryBudget: c.retryBudget,
		Query:       query,
	})
}

// ServerInfo fetches the root endpoint document. The result is cached until
// the default headers change.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	c.mu.Lock()
	cached := c.serverInfo
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	resp, err := c.Execute(ctx, transport.Request{Method: http.MethodGet, Path: "/"}, dispatch.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch server info: %w", err)
	}

	var info ServerInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, fmt.Errorf("decode server info: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = &info
	c.mu.Unlock()

	c.logger.Debug().
		Str("project", info.ProjectName).
		Str("version", info.ProjectVersion).
		Msg("Server info fetched")
	return &info, nil
}

// ensureCapability fails when the server was built without the named
// feature.
func (c *Client) ensureCapability(ctx context.Context, name string) error {
	info, err := c.ServerInfo(ctx)
	if err != nil {
		return err
	}
	if _, ok := info.Capabilities[name]; !ok {
		return fmt.Errorf("server is missing the %q capability", name)
	}
	return nil
}

// Batch records the operations issued by fn and ships them through the
// batch endpoint, chunked to the server's published envelope limit.
func (c *Client) Batch(ctx context.Context, fn func(s dispatch.Sink) error) (*batch.Result, error) {
	info, err := c.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defaults := flattenHeaders(c.headers)
	c.mu.Unlock()

	return c.runner.Run(ctx, fn, batch.Options{
		MaxSize:     info.Settings.BatchMaxRequests,
		Headers:     defaults,
		RetryBudget: c.retryBudget,
	})
}

// BackoffRemaining returns the time left in the server-requested hold-off,
// 0 when none is active.
func (c *Client) BackoffRemaining() time.Duration {
	return c.flow.BackoffRemaining()
}

// LastAlert returns the most recent deprecation alert, nil if none.
func (c *Client) LastAlert() *events.Alert {
	return c.flow.LastAlert()
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	flat := make(map[string]string, len(h))
	for key := range h {
		flat[key] = h.Get(key)
	}
	return flat
}
