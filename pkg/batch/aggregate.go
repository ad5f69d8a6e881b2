package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vesseldb/vessel-go/pkg/transport"
)

// ErrLengthMismatch is returned when responses and requests cannot be paired
// one-to-one.
var ErrLengthMismatch = errors.New("responses and requests counts do not match")

// AggregateResult classifies a batch's per-operation outcomes. Every
// operation lands in exactly one list:
//
//	len(Published) + len(Conflicts) + len(Skipped) + len(Errors) == len(requests)
type AggregateResult struct {
	Published []json.RawMessage
	Conflicts []Conflict
	Skipped   []Skipped
	Errors    []OperationError
}

// Total returns the number of classified operations.
func (r *AggregateResult) Total() int {
	return len(r.Published) + len(r.Conflicts) + len(r.Skipped) + len(r.Errors)
}

// Conflict is a 412 outcome: the write lost an optimistic-concurrency race.
type Conflict struct {
	// Type is always "outgoing": the local change conflicted on its way out.
	Type string

	// Local is the request body that was sent.
	Local any

	// Remote is the existing object reported by the server, nil when the
	// server provided none.
	Remote json.RawMessage
}

// Skipped is a 404 outcome: the target resource does not exist.
type Skipped struct {
	ID    string
	Path  string
	Error json.RawMessage
}

// OperationError is any remaining error outcome (unclassified 4xx or 5xx).
type OperationError struct {
	Path  string
	Error json.RawMessage
	Sent  transport.Request
}

// Aggregate classifies index-aligned responses and requests. Classification
// priority: success range, then 404, then 412, then everything else.
func Aggregate(responses []WireResponse, requests []transport.Request) (*AggregateResult, error) {
	if len(responses) != len(requests) {
		return nil, fmt.Errorf("%w: %d responses for %d requests",
			ErrLengthMismatch, len(responses), len(requests))
	}

	result := &AggregateResult{
		Published: []json.RawMessage{},
		Conflicts: []Conflict{},
		Skipped:   []Skipped{},
		Errors:    []OperationError{},
	}

	for i, resp := range responses {
		req := requests[i]
		switch {
		case resp.Status >= 200 && resp.Status < 400:
			result.Published = append(result.Published, resp.Body)
		case resp.Status == 404:
			result.Skipped = append(result.Skipped, Skipped{
				ID:    lastSegment(resp.Path),
				Path:  resp.Path,
				Error: resp.Body,
			})
		case resp.Status == 412:
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:   "outgoing",
				Local:  req.Body,
				Remote: existingRemote(resp.Body),
			})
		default:
			result.Errors = append(result.Errors, OperationError{
				Path:  resp.Path,
				Error: resp.Body,
				Sent:  req,
			})
		}
	}

	return result, nil
}

// existingRemote digs body.details.existing out of a 412 error body.
func existingRemote(body json.RawMessage) json.RawMessage {
	var payload struct {
		Details struct {
			Existing json.RawMessage `json:"existing"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	existing := payload.Details.Existing
	if len(existing) == 0 || string(existing) == "null" {
		return nil
	}
	return existing
}

// lastSegment extracts the resource id from an operation path.
func lastSegment(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}
