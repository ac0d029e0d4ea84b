package events

import "sync"

// Recorder is a Publisher that remembers everything it was given, in order.
// Substituted for the live hub in tests.
type Recorder struct {
	mu     sync.Mutex
	events []QueueEvent
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ev QueueEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []QueueEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]QueueEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event, or a zero event when none were published.
func (r *Recorder) Last() (QueueEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return QueueEvent{}, false
	}
	return r.events[len(r.events)-1], true
}
