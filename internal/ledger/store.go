package ledger

// EventStore is the ordered collection of raw events referenced by the
// ledger. It is not safe for concurrent use on its own; Ledger guards it.
type EventStore struct {
	events []Event
}

// Append adds e to the end of the store.
func (s *EventStore) Append(e Event) {
	s.events = append(s.events, e)
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	return len(s.events)
}

// At returns the event at zero-based index i.
func (s *EventStore) At(i int) (Event, bool) {
	if i < 0 || i >= len(s.events) {
		return Event{}, false
	}
	return s.events[i], true
}

// All returns a copy of the stored events in seq order.
func (s *EventStore) All() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
