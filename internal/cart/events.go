package cart

import (
	"sync"

	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

// EventKind names a client-facing cart decision.
type EventKind string

const (
	// EventAdd reports a line created from a new detection.
	EventAdd EventKind = "add"
	// EventPromptDuplicate asks the client to confirm another unit of an existing line.
	EventPromptDuplicate EventKind = "prompt"
)

// Event is a pending client notification carrying a line snapshot.
type Event struct {
	Kind EventKind `json:"action"`
	Item Line      `json:"item"`
}

// EventQueue is a FIFO with pop-once semantics for a single polling consumer.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

// NewEventQueue returns an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Push appends e.
func (q *EventQueue) Push(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// Pop removes and returns the oldest event.
func (q *EventQueue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]
	return e, true
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Emitter turns accepted detections into cart mutations and client events.
// It is the only path that creates lines from detections.
type Emitter struct {
	store *Store
	queue *EventQueue
}

// NewEmitter wires an emitter to the store and queue it writes to.
func NewEmitter(store *Store, queue *EventQueue) *Emitter {
	return &Emitter{store: store, queue: queue}
}

// Emit adds a new line for d, or leaves an existing line untouched and asks the
// client to confirm a duplicate. The emitted event is returned.
func (e *Emitter) Emit(d types.Detection) (Event, error) {
	line, created, err := e.store.AddOrGetLine(d.ProductID)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Kind: EventPromptDuplicate, Item: line}
	if created {
		ev.Kind = EventAdd
	}
	e.queue.Push(ev)
	return ev, nil
}
