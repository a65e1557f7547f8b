package events

import (
	"sync"

	"bazaar/core/types"
)

const defaultLogCapacity = 1024

// Log is an append-only in-process event log that retains a bounded tail of
// committed events and fans them out to registered subscribers. Downstream
// consumers are expected to be idempotent; delivery is at-least-once within a
// process lifetime.
type Log struct {
	mu       sync.RWMutex
	capacity int
	tail     []*types.Event
	subs     []Emitter
}

// NewLog constructs an event log retaining up to capacity events. A
// non-positive capacity selects the default.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &Log{capacity: capacity}
}

// Subscribe registers an emitter that receives every event appended after the
// call. Nil subscribers are ignored.
func (l *Log) Subscribe(sub Emitter) {
	if l == nil || sub == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, sub)
}

// Emit implements the Emitter interface. Events carrying a detailed payload
// are retained in the tail; every event is forwarded to subscribers.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	l.mu.Lock()
	if detailed, ok := evt.(Detailed); ok {
		if payload := detailed.Event(); payload != nil {
			l.tail = append(l.tail, payload)
			if len(l.tail) > l.capacity {
				l.tail = l.tail[len(l.tail)-l.capacity:]
			}
		}
	}
	subs := make([]Emitter, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()
	for _, sub := range subs {
		sub.Emit(evt)
	}
}

// Tail returns up to n of the most recently appended events, oldest first.
func (l *Log) Tail(n int) []*types.Event {
	if l == nil || n <= 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.tail) {
		n = len(l.tail)
	}
	out := make([]*types.Event, n)
	copy(out, l.tail[len(l.tail)-n:])
	return out
}
