package broker

import (
	"sort"
	"sync"
)

// Events exchanged over the Notifier.
const (
	EventViewShown           = "view-shown"
	EventAuthorityAuthorize  = "pair:auth:authorize"
	EventSupplicantAuthorize = "pair:supp:authorize"
)

// EventNotifier is the default in-process Notifier: a subscriber map keyed
// by event name, dispatched synchronously in registration order. Handlers
// should not block.
type EventNotifier struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(payload map[string]any)
}

func NewEventNotifier() *EventNotifier {
	return &EventNotifier{
		subs: make(map[string]map[int]func(payload map[string]any)),
	}
}

var _ Notifier = (*EventNotifier)(nil)

// On registers fn for event and returns its unsubscribe function.
// Unsubscribing twice is a no-op.
func (n *EventNotifier) On(event string, fn func(payload map[string]any)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs[event] == nil {
		n.subs[event] = make(map[int]func(payload map[string]any))
	}
	id := n.next
	n.next++
	n.subs[event][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[event], id)
	}
}

// Trigger dispatches payload to every subscriber of event.
func (n *EventNotifier) Trigger(event string, payload map[string]any) {
	n.mu.RLock()
	handlers := make([]func(map[string]any), 0, len(n.subs[event]))
	ids := make([]int, 0, len(n.subs[event]))
	for id := range n.subs[event] {
		ids = append(ids, id)
	}
	// map iteration order is random; dispatch in registration order
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, n.subs[event][id])
	}
	n.mu.RUnlock()

	for _, fn := range handlers {
		fn(payload)
	}
}
