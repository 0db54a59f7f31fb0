package groupchat

import "sync"

// EventRecorder captures published events for replay or inspection.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewEventRecorder creates a new recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Publisher returns an EventPublisher that records every event and then
// forwards it to next, if any.
func (r *EventRecorder) Publisher(next EventPublisher) EventPublisher {
	return func(event Event) {
		r.mu.Lock()
		r.events = append(r.events, event)
		r.mu.Unlock()
		if next != nil {
			next(event)
		}
	}
}

// Events returns a copy of recorded events.
func (r *EventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make([]Event, len(r.events))
	copy(copied, r.events)
	return copied
}

// OfType returns the recorded events with a matching type, in order.
func (r *EventRecorder) OfType(types ...EventType) []Event {
	allowed := make(map[EventType]struct{}, len(types))
	for _, typ := range types {
		allowed[typ] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, event := range r.events {
		if _, ok := allowed[event.Type]; ok {
			out = append(out, event)
		}
	}
	return out
}

// FilterEvents wraps next so it only sees events with matching types.
func FilterEvents(next EventPublisher, types ...EventType) EventPublisher {
	if len(types) == 0 {
		return next
	}

	allowed := make(map[EventType]struct{}, len(types))
	for _, typ := range types {
		allowed[typ] = struct{}{}
	}

	return func(event Event) {
		if _, ok := allowed[event.Type]; ok {
			next(event)
		}
	}
}
