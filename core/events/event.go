package events

import "bazaar/core/types"

// Event represents a structured state change emitted by the marketplace core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (indexer, reputation,
// notification relay).
type Emitter interface {
	Emit(Event)
}

// Detailed is implemented by events that can render the canonical attribute
// payload consumed by subscribers.
type Detailed interface {
	Event
	Event() *types.Event
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
