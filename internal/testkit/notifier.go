package testkit

import (
	"sync"

	"semaphore/liveclass/internal/notify"
)

type Notification struct {
	Channel string
	Event   notify.Event
}

// Recorder is a synchronous notify.Notifier that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []Notification
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(channel string, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Notification{Channel: channel, Event: event})
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.events...)
}

// On returns the events published on channel, in order.
func (r *Recorder) On(channel string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, n := range r.events {
		if n.Channel == channel {
			out = append(out, n.Event)
		}
	}
	return out
}

// Types returns the event types published on channel, in order.
func (r *Recorder) Types(channel string) []string {
	var out []string
	for _, e := range r.On(channel) {
		out = append(out, e.Type)
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
