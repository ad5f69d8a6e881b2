// Package batch records groups of operations and ships them to the server's
// batch endpoint as atomic multi-operation envelopes, respecting the
// server-imposed batch size limit.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vesseldb/vessel-go/pkg/dispatch"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

var (
	chunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vessel_batch_chunks_total",
		Help: "Total batch envelopes shipped",
	})

	operationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vessel_batch_operations_total",
		Help: "Total operations shipped inside batch envelopes",
	})
)

// WireRequest is one sub-request inside a batch envelope.
type WireRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// WireResponse is one sub-response from a batch envelope, index-aligned with
// its request. Per-item error statuses (404/412/500) are data here, never
// Go errors.
type WireResponse struct {
	Status  int               `json:"status"`
	Path    string            `json:"path"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Envelope is the batch endpoint's request body.
type Envelope struct {
	Defaults Defaults      `json:"defaults"`
	Requests []WireRequest `json:"requests"`
}

// Defaults are headers applied by the server to every sub-request that does
// not override them.
type Defaults struct {
	Headers map[string]string `json:"headers,omitempty"`
}

type envelopeReply struct {
	Responses []WireResponse `json:"responses"`
}

// Options tunes one batch run.
type Options struct {
	// MaxSize is the server's maximum envelope size. Non-positive disables
	// chunking: everything ships as one envelope.
	MaxSize int

	// Headers become the envelope defaults.
	Headers map[string]string

	// RetryBudget bounds Retry-After re-sends on the batch endpoint.
	RetryBudget int
}

// Result pairs the recorded requests with their ordered responses.
type Result struct {
	Requests  []transport.Request
	Responses []WireResponse
}

// Aggregate classifies the result's per-operation outcomes.
func (r *Result) Aggregate() (*AggregateResult, error) {
	return Aggregate(r.Responses, r.Requests)
}

// Runner ships recorded operation groups through a live sink.
type Runner struct {
	live   dispatch.Sink
	logger zerolog.Logger
}

// NewRunner creates a batch runner on top of a live sink.
func NewRunner(live dispatch.Sink) *Runner {
	return &Runner{
		live:   live,
		logger: log.With().Str("component", "batch").Logger(),
	}
}

// Run invokes fn against a fresh recording sink, then ships the recorded
// queue in chunks of at most opts.MaxSize, sequentially, concatenating the
// ordered responses. An empty queue issues no network call. The callback
// only ever sees a Sink, so batch runs cannot nest.
func (r *Runner) Run(ctx context.Context, fn func(s dispatch.Sink) error, opts Options) (*Result, error) {
	recorder := dispatch.NewRecordingSink()
	if err := fn(recorder); err != nil {
		return nil, fmt.Errorf("record batch operations: %w", err)
	}

	requests := recorder.Requests()
	if len(requests) == 0 {
		return &Result{}, nil
	}

	chunks := chunkRequests(requests, opts.MaxSize)
	responses := make([]WireResponse, 0, len(requests))

	r.logger.Debug().
		Int("operations", len(requests)).
		Int("chunks", len(chunks)).
		Int("max_size", opts.MaxSize).
		Msg("Shipping batch")

	for i, chunk := range chunks {
		envelope := Envelope{
			Defaults: Defaults{Headers: opts.Headers},
			Requests: toWire(chunk),
		}

		resp, err := r.live.Execute(ctx, transport.Request{
			Method: http.MethodPost,
			Path:   "/batch",
			Body:   envelope,
		}, dispatch.Options{RetryBudget: opts.RetryBudget})
		if err != nil {
			return nil, fmt.Errorf("ship batch chunk %d/%d: %w", i+1, len(chunks), err)
		}

		var reply envelopeReply
		if err := json.Unmarshal(resp.Body, &reply); err != nil {
			return nil, fmt.Errorf("decode batch reply: %w", err)
		}
		if len(reply.Responses) != len(chunk) {
			return nil, fmt.Errorf("%w: chunk of %d answered with %d responses",
				ErrLengthMismatch, len(chunk), len(reply.Responses))
		}

		responses = append(responses, reply.Responses...)
		chunksTotal.Inc()
		operationsTotal.Add(float64(len(chunk)))
	}

	return &Result{Requests: requests, Responses: responses}, nil
}

// chunkRequests partitions the queue into fixed-size chunks, the last one
// holding the remainder.
func chunkRequests(requests []transport.Request, maxSize int) [][]transport.Request {
	if maxSize <= 0 || len(requests) <= maxSize {
		return [][]transport.Request{requests}
	}

	chunks := make([][]transport.Request, 0, (len(requests)+maxSize-1)/maxSize)
	for start := 0; start < len(requests); start += maxSize {
		end := start + maxSize
		if end > len(requests) {
			end = len(requests)
		}
		chunks = append(chunks, requests[start:end])
	}
	return chunks
}

func toWire(requests []transport.Request) []WireRequest {
	wire := make([]WireRequest, len(requests))
	for i, req := range requests {
		wire[i] = WireRequest{
			Method:  req.Method,
			Path:    req.Path,
			Headers: flattenHeaders(req.Headers),
			Body:    req.Body,
		}
	}
	return wire
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
