// Package events provides the observer interface through which the Vessel
// client surfaces flow-control and deprecation signals. Emitters are
// injected at construction so that independent client instances never share
// an event stream.
package events

import (
	"sync"
	"time"
)

// Event names emitted by the transport layer.
const (
	// EventDeprecated is emitted when a response carries an Alert header.
	// Payload: Alert.
	EventDeprecated = "deprecated"

	// EventBackoff is emitted on every response. Payload: time.Time, the
	// absolute instant before which the client should stay idle (zero
	// value when the server requested no backoff).
	EventBackoff = "backoff"

	// EventRetryAfter is emitted before the transport honors a Retry-After
	// header. Payload: time.Time, the absolute wake time.
	EventRetryAfter = "retry-after"
)

// Alert is the parsed payload of a deprecation Alert header.
type Alert struct {
	Code    string `json:"code"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

// Handler receives an event payload.
type Handler func(payload any)

// Emitter is a per-client publish/subscribe hub.
type Emitter interface {
	// On registers a handler and returns a function that removes it.
	On(event string, h Handler) (off func())

	// Emit delivers payload to every handler registered for event.
	// Handlers run synchronously in registration order.
	Emit(event string, payload any)
}

// BackoffAt converts a payload emitted with EventBackoff or EventRetryAfter
// back to its absolute time. Returns the zero time for foreign payloads.
func BackoffAt(payload any) time.Time {
	at, _ := payload.(time.Time)
	return at
}

type registration struct {
	id int
	h  Handler
}

type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string][]registration
}

// NewEmitter returns an in-process Emitter.
func NewEmitter() Emitter {
	return &emitter{handlers: make(map[string][]registration)}
}

func (e *emitter) On(event string, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers[event] = append(e.handlers[event], registration{id: id, h: h})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		regs := e.handlers[event]
		for i, reg := range regs {
			if reg.id == id {
				e.handlers[event] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

func (e *emitter) Emit(event string, payload any) {
	e.mu.RLock()
	regs := make([]registration, len(e.handlers[event]))
	copy(regs, e.handlers[event])
	e.mu.RUnlock()

	for _, reg := range regs {
		reg.h(payload)
	}
}
