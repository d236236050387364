// Package loghub is the Log Hub (spec §4.7): a buffered per-project ring of
// log lines and lifecycle events, fanned out to subscribers.
package loghub

import (
	"context"
	"sync"
)

const ringCapacity = 1000

// LineType distinguishes stdout from stderr output.
type LineType string

const (
	LineStdout LineType = "stdout"
	LineStderr LineType = "stderr"
)

// Line is a single buffered log line.
type Line struct {
	ProjectID string
	Text      string
	Type      LineType
}

// Event is a structured lifecycle event (e.g. session_expired).
type Event struct {
	ProjectID string
	Name      string
	Data      map[string]interface{}
}

// Message is pushed to subscribers: exactly one of Line/Event is set.
type Message struct {
	Line  *Line
	Event *Event
}

type ring struct {
	mu          sync.Mutex
	buf         []Line
	subscribers map[int]chan Message
	nextSubID   int
}

func newRing() *ring {
	return &ring{buf: make([]Line, 0, ringCapacity), subscribers: make(map[int]chan Message)}
}

func (r *ring) append(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, line)
	if len(r.buf) > ringCapacity {
		r.buf = r.buf[len(r.buf)-ringCapacity:]
	}

	for _, ch := range r.subscribers {
		select {
		case ch <- Message{Line: &line}:
		default:
			// Slow subscriber: drop rather than block the pump (spec's "buffered
			// fan-out" doesn't mandate lossless delivery to a stalled reader).
		}
	}
}

func (r *ring) broadcast(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- Message{Event: &event}:
		default:
		}
	}
}

// Hub is the process-wide Log Hub, one ring per project.
type Hub struct {
	mu    sync.Mutex
	rings map[string]*ring
}

// New constructs an empty Hub.
func New() *Hub {
	return &Hub{rings: make(map[string]*ring)}
}

func (h *Hub) ringFor(projectID string) *ring {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[projectID]
	if !ok {
		r = newRing()
		h.rings[projectID] = r
	}
	return r
}

// AddLog appends a line to projectID's ring and fans it out to subscribers.
func (h *Hub) AddLog(projectID, text string, lineType LineType) {
	h.ringFor(projectID).append(Line{ProjectID: projectID, Text: text, Type: lineType})
}

// BroadcastEvent emits a structured lifecycle event to projectID's subscribers.
func (h *Hub) BroadcastEvent(projectID, name string, data map[string]interface{}) {
	h.ringFor(projectID).broadcast(Event{ProjectID: projectID, Name: name, Data: data})
}

// Subscription is a live feed of a project's log/event stream.
type Subscription struct {
	Messages <-chan Message
	cancel   func()
}

// Close detaches the subscription.
func (s *Subscription) Close() { s.cancel() }

// AddSubscriber attaches a new subscriber to projectID's ring, first
// replaying the buffered backlog (spec §4.7), then streaming live messages.
func (h *Hub) AddSubscriber(ctx context.Context, projectID string) *Subscription {
	r := h.ringFor(projectID)

	r.mu.Lock()
	backlog := make([]Line, len(r.buf))
	copy(backlog, r.buf)
	id := r.nextSubID
	r.nextSubID++
	ch := make(chan Message, 256)
	r.subscribers[id] = ch
	r.mu.Unlock()

	out := make(chan Message, 256)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for _, line := range backlog {
			l := line
			select {
			case out <- Message{Line: &l}:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}

	return &Subscription{Messages: out, cancel: cancel}
}

// RemoveProject drops a project's ring entirely (called on session removal).
func (h *Hub) RemoveProject(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rings, projectID)
}
