package device

import (
	"fmt"
	"sync"

	"github.com/notargets/kernelheap/errors"
)

// Event is an opaque handle for an enqueued device operation
type Event int64

// NoEvent is returned when the caller did not ask for a dependency handle
const NoEvent Event = -1

// EventStatus represents the completion state of an event
type EventStatus int

const (
	EventUnknown EventStatus = iota
	EventQueued
	EventComplete
	EventFailed
)

func (s EventStatus) String() string {
	switch s {
	case EventQueued:
		return "queued"
	case EventComplete:
		return "complete"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tracker records the outcome of operations for backends that execute
// enqueued work in order on the calling goroutine. A failure propagates to
// every operation that waits on it.
//
// Handles are issued in sequence and only failures are stored, so a long
// run of successful transfers costs no memory.
type Tracker struct {
	mu       sync.Mutex
	base     Event
	next     Event
	failures map[Event]error
}

// NewTracker creates an empty event tracker
func NewTracker() *Tracker {
	return &Tracker{failures: make(map[Event]error)}
}

// Check returns the first failure among waitEvents, or an error for a
// handle the tracker never issued. NoEvent entries are ignored.
func (t *Tracker) Check(waitEvents []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.check(waitEvents)
}

func (t *Tracker) check(waitEvents []Event) error {
	for _, ev := range waitEvents {
		if ev == NoEvent {
			continue
		}
		if !t.issued(ev) {
			return t.lookup(ev)
		}
		if err := t.failures[ev]; err != nil {
			return fmt.Errorf("dependency event %d failed: %w", ev, err)
		}
	}
	return nil
}

func (t *Tracker) issued(ev Event) bool {
	return ev >= t.base && ev < t.next
}

// lookup returns the stored failure of ev, nil when it completed, or an
// unknown-event error
func (t *Tracker) lookup(ev Event) error {
	if !t.issued(ev) {
		return errors.New(errors.OpTransfer, errors.KindInvalidArgument).
			Detail("unknown event %d", ev).
			Build()
	}
	return t.failures[ev]
}

func (t *Tracker) issue(err error) Event {
	ev := t.next
	t.next++
	if err != nil {
		t.failures[ev] = err
	}
	return ev
}

// Record issues a new event carrying the outcome of a completed operation
func (t *Tracker) Record(err error) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issue(err)
}

// Marker issues an event that fails if any of events failed
func (t *Tracker) Marker(events []Event) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issue(t.check(events))
}

// Status reports the state of ev
func (t *Tracker) Status(ev Event) (EventStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.issued(ev) {
		return EventUnknown, t.lookup(ev)
	}
	if err := t.failures[ev]; err != nil {
		return EventFailed, err
	}
	return EventComplete, nil
}

// Wait returns the first failure among events
func (t *Tracker) Wait(events ...Event) error {
	return t.Check(events)
}

// Reset forgets every issued event. Handles issued before Reset become
// unknown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base = t.next
	t.failures = make(map[Event]error)
}

// Len returns the number of events issued since the last Reset
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.next - t.base)
}
