// Package testutil provides testing utilities for the Vessel client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockVessel is a configurable mock Vessel server for testing. It answers
// the root endpoint with a default server-info document and lets tests wire
// custom handlers per path.
type MockVessel struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	ConditionalCount  int
	BatchEnvelopes    [][]byte
	LastRequestHeader http.Header
}

// NewMockVessel creates a new mock server.
func NewMockVessel() *MockVessel {
	mock := &MockVessel{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" {
			mock.ConditionalCount++
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server base URL without a version segment.
func (m *MockVessel) URL() string {
	return m.server.URL
}

// Remote returns the versioned base URL a client connects to.
func (m *MockVessel) Remote() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockVessel) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockVessel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.BatchEnvelopes = nil
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockVessel) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a static response for a path.
func (m *MockVessel) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetServerInfo overrides the root endpoint document.
func (m *MockVessel) SetServerInfo(info any) {
	body, err := json.Marshal(info)
	if err != nil {
		panic(fmt.Sprintf("marshal server info: %v", err))
	}
	m.SetResponse("/v1/", MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// SetRecordsResponse configures a records listing for bucket/collection.
func (m *MockVessel) SetRecordsResponse(bucket, collection string, resp MockResponse) {
	path := fmt.Sprintf("/v1/buckets/%s/collections/%s/records", bucket, collection)
	m.SetResponse(path, resp)
}

// CaptureBatches installs a batch endpoint handler that records every
// envelope and answers each sub-request with the given status.
func (m *MockVessel) CaptureBatches(status int) {
	m.SetHandler("/v1/batch", func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Requests []struct {
				Path string `json:"path"`
			} `json:"requests"`
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		m.mu.Lock()
		m.BatchEnvelopes = append(m.BatchEnvelopes, raw)
		m.mu.Unlock()

		responses := make([]map[string]any, len(envelope.Requests))
		for i, sub := range envelope.Requests {
			responses[i] = map[string]any{
				"status":  status,
				"path":    sub.Path,
				"body":    map[string]any{"data": map[string]any{}},
				"headers": map[string]string{},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"responses": responses})
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockVessel) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockVessel) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetBatchEnvelopes returns the captured raw batch envelopes in order.
func (m *MockVessel) GetBatchEnvelopes() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.BatchEnvelopes))
	copy(out, m.BatchEnvelopes)
	return out
}

// defaultHandler answers the root endpoint with a server-info document and
// everything else with an empty listing.
func (m *MockVessel) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/v1/" || r.URL.Path == "/v1" {
		w.Write([]byte(DefaultServerInfo))
		return
	}

	if r.Header.Get("If-None-Match") != "" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", `"1700000000000"`)
	w.Write([]byte(`{"data": []}`))
}

// DefaultServerInfo is the root document the mock serves out of the box.
const DefaultServerInfo = `{
  "project_name": "vessel",
  "project_version": "11.2.0",
  "http_api_version": "1.22",
  "url": "http://localhost:8888/v1/",
  "settings": {"batch_max_requests": 25, "readonly": false},
  "capabilities": {
    "history": {"description": "Track changes on data.", "url": ""},
    "permissions_endpoint": {"description": "List shared objects.", "url": ""}
  }
}`
