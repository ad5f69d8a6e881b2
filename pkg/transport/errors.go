package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// authPlaceholder replaces Authorization values wherever request headers end
// up in an error message. Credentials must never reach logs.
const authPlaceholder = "**** (redacted)"

// TimeoutError is returned when an exchange did not complete within the
// configured timeout. The exchange itself is abandoned, not aborted, so the
// server may still have processed the request.
type TimeoutError struct {
	URL     string
	Headers http.Header
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out (headers: %s)", e.URL, formatHeaders(e.Headers))
}

// ParseError is returned when a non-empty response body is not valid JSON.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable response from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ServerError is returned for any response with status >= 400. It carries
// the raw error body so callers can inspect the server's diagnostics.
type ServerError struct {
	Status  int
	Path    string
	Body    json.RawMessage
	Headers http.Header
}

func (e *ServerError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("HTTP %d on %s: %s", e.Status, e.Path, msg)
	}
	return fmt.Sprintf("HTTP %d on %s: %s", e.Status, e.Path, http.StatusText(e.Status))
}

// Message extracts the server's error message from the body, if any.
func (e *ServerError) Message() string {
	if len(e.Body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// redactAuthorization returns a copy of h with the Authorization value
// replaced by a fixed placeholder.
func redactAuthorization(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	if out.Get("Authorization") != "" {
		out.Set("Authorization", authPlaceholder)
	}
	return out
}

func formatHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, strings.Join(h[k], ",")))
	}
	return strings.Join(parts, " ")
}
