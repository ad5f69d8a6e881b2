// Package transport issues single HTTP exchanges against a Vessel server,
// handling timeouts, flow-control headers (Backoff, Retry-After), and
// deprecation alerts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vesseldb/vessel-go/pkg/events"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vessel_requests_total",
		Help: "Total Vessel requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vessel_request_duration_seconds",
		Help:    "Vessel request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	retryWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vessel_retry_after_waits_total",
		Help: "Total number of waits honoring a Retry-After header",
	})

	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vessel_request_timeouts_total",
		Help: "Total number of abandoned exchanges due to timeout",
	})
)

// Request describes one exchange. Immutable once queued in a batch.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
	Body    any
}

// MultipartBody marks a request body as a pre-encoded multipart form. The
// transport sets the Content-Type from it and discards any caller-supplied
// value, which would carry the wrong boundary.
type MultipartBody struct {
	Content     io.Reader
	ContentType string
}

// Response is the outcome of one exchange. Body is the raw JSON document,
// nil when the response body was empty.
type Response struct {
	Status  int
	Path    string
	Body    json.RawMessage
	Headers http.Header
}

// Options tunes a single Execute call.
type Options struct {
	// RetryBudget is the number of times a Retry-After header will be
	// honored before the response is processed as-is.
	RetryBudget int
}

// Config holds the transport configuration.
type Config struct {
	// Timeout bounds the wait for one exchange. Zero disables the bound.
	Timeout time.Duration

	// Events receives deprecated/backoff/retry-after notifications.
	// Optional.
	Events events.Emitter

	// HTTPClient overrides the underlying client. Optional.
	HTTPClient *http.Client
}

// Transport executes HTTP exchanges with default headers and flow-control
// header handling.
type Transport struct {
	httpClient *http.Client
	events     events.Emitter
	timeout    time.Duration
	logger     zerolog.Logger
}

// New creates a Transport.
func New(cfg Config) *Transport {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Transport{
		httpClient: httpClient,
		events:     cfg.Events,
		timeout:    cfg.Timeout,
		logger:     log.With().Str("component", "transport").Logger(),
	}
}

// Execute performs one exchange against url. All three flow-control headers
// are inspected on every response regardless of status. A Retry-After header
// triggers a wait and a re-send while opts.RetryBudget lasts; every other
// failure surfaces immediately.
func (t *Transport) Execute(ctx context.Context, url string, req Request, opts Options) (*Response, error) {
	budget := opts.RetryBudget

	for {
		resp, err := t.roundTrip(ctx, url, req)
		if err != nil {
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		t.handleAlert(resp.Header)
		t.emitBackoff(resp.Header)

		if wait, ok := retryAfter(resp.Header); ok && budget > 0 {
			budget--
			wakeAt := time.Now().Add(wait)
			t.emit(events.EventRetryAfter, wakeAt)
			retryWaitsTotal.Inc()

			t.logger.Warn().
				Str("endpoint", req.Path).
				Dur("wait", wait).
				Int("budget", budget).
				Msg("Honoring Retry-After header")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		return t.process(url, req.Path, resp.StatusCode, resp.Header, body)
	}
}

// roundTrip issues the HTTP call, racing it against the configured timeout.
// On timeout the in-flight exchange is abandoned, not aborted: server-side
// effects of a timed-out request may still occur.
func (t *Transport) roundTrip(ctx context.Context, url string, req Request) (*http.Response, error) {
	httpReq, err := t.buildRequest(ctx, url, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.Path).Observe(time.Since(start).Seconds())
	}()

	if t.timeout <= 0 {
		resp, err := t.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("request to %s: %w", url, err)
		}
		return resp, nil
	}

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.httpClient.Do(httpReq)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("request to %s: %w", url, r.err)
		}
		return r.resp, nil
	case <-time.After(t.timeout):
		timeoutsTotal.Inc()
		// Reap the abandoned exchange whenever it finishes.
		go func() {
			if r := <-done; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return nil, &TimeoutError{URL: url, Headers: redactAuthorization(httpReq.Header)}
	case <-ctx.Done():
		go func() {
			if r := <-done; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// buildRequest encodes the body and applies default JSON headers without
// overwriting caller-supplied ones.
func (t *Transport) buildRequest(ctx context.Context, url string, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		reader    io.Reader
		multipart *MultipartBody
	)
	switch body := req.Body.(type) {
	case nil:
	case *MultipartBody:
		multipart = body
		reader = body.Content
	case json.RawMessage:
		reader = bytes.NewReader(body)
	case []byte:
		reader = bytes.NewReader(body)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if multipart != nil {
		// The multipart writer owns the boundary.
		httpReq.Header.Set("Content-Type", multipart.ContentType)
	} else if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return httpReq, nil
}

// process turns the wire response into a Response or a typed error.
func (t *Transport) process(url, path string, status int, header http.Header, body []byte) (*Response, error) {
	requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()

	var raw json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 {
		var probe any
		if err := json.Unmarshal(body, &probe); err != nil {
			return nil, &ParseError{URL: url, Err: err}
		}
		raw = json.RawMessage(body)
	}

	if status >= 400 {
		return nil, &ServerError{Status: status, Path: path, Body: raw, Headers: header}
	}

	return &Response{Status: status, Path: path, Body: raw, Headers: header}, nil
}

// handleAlert parses the deprecation Alert header. A malformed value only
// logs a warning.
func (t *Transport) handleAlert(h http.Header) {
	raw := h.Get("Alert")
	if raw == "" {
		return
	}

	var alert events.Alert
	if err := json.Unmarshal([]byte(raw), &alert); err != nil {
		t.logger.Warn().Err(err).Msg("Unparseable Alert header value")
		return
	}

	t.logger.Warn().
		Str("code", alert.Code).
		Str("url", alert.URL).
		Msg(alert.Message)
	t.emit(events.EventDeprecated, alert)
}

// emitBackoff announces the absolute do-not-call-before instant derived from
// the Backoff header. The zero time means the server requested no backoff.
func (t *Transport) emitBackoff(h http.Header) {
	var releaseAt time.Time
	if secs, err := strconv.Atoi(h.Get("Backoff")); err == nil && secs > 0 {
		releaseAt = time.Now().Add(time.Duration(secs) * time.Second)
	}
	t.emit(events.EventBackoff, releaseAt)
}

func (t *Transport) emit(event string, payload any) {
	if t.events != nil {
		t.events.Emit(event, payload)
	}
}

// retryAfter reads the Retry-After header. Unparseable values are treated
// as absent.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
