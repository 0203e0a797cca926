// Package events implements the orchestrator's public typed publish/
// subscribe surface: {change, local-track-change, track-change, finish,
// message, error}. Listeners run synchronously, in registration order, on
// the publishing goroutine; they must not block.
package events

import "sync"

// Kind identifies one of the public event types.
type Kind string

const (
	Change           Kind = "change"
	LocalTrackChange Kind = "local-track-change"
	TrackChange      Kind = "track-change"
	Finish           Kind = "finish"
	Message          Kind = "message"
	Error            Kind = "error"
)

// Event is the payload delivered to a listener. Payload is nil for
// Change/LocalTrackChange/TrackChange/Finish, the decoded message for
// Message, and a *domain.CallError (or other error) for Error.
type Event struct {
	Kind    Kind
	Payload any
}

// Emitter is a typed, synchronous, registration-ordered publish/subscribe
// registry. Safe for concurrent On/Emit from multiple goroutines;
// a given Emit call only ever runs on its caller's goroutine.
type Emitter struct {
	mu        sync.Mutex
	listeners map[Kind][]func(Event)
}

// New creates an empty Emitter.
func New() *Emitter {
	return &Emitter{listeners: make(map[Kind][]func(Event))}
}

// On registers a listener for kind, appended after any existing listeners
// for that kind.
func (e *Emitter) On(kind Kind, listener func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[kind] = append(e.listeners[kind], listener)
}

// Emit synchronously invokes every listener registered for evt.Kind, in
// registration order, on the calling goroutine.
func (e *Emitter) Emit(evt Event) {
	e.mu.Lock()
	listeners := make([]func(Event), len(e.listeners[evt.Kind]))
	copy(listeners, e.listeners[evt.Kind])
	e.mu.Unlock()

	for _, l := range listeners {
		l(evt)
	}
}

// EmitChange is a convenience for the most common event: Emit(Event{Kind: Change}).
func (e *Emitter) EmitChange() {
	e.Emit(Event{Kind: Change})
}

// EmitError emits an Error event carrying err.
func (e *Emitter) EmitError(err error) {
	e.Emit(Event{Kind: Error, Payload: err})
}
