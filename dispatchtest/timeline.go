package dispatchtest

import (
	"fmt"
	"sync"
	"time"
)

// Event is one entry in a Timeline
type Event struct {
	Seq  int
	At   time.Time
	What string
}

// Timeline is a shared, ordered record of what a ScriptedLog and a
// RecordingTarget observed. Tests use it to check happens-before relations
// between polls and deliveries.
type Timeline struct {
	lock   sync.Mutex
	events []Event
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (tl *Timeline) Add(format string, args ...any) {
	if tl == nil {
		return
	}
	tl.lock.Lock()
	defer tl.lock.Unlock()
	tl.events = append(tl.events, Event{
		Seq:  len(tl.events),
		At:   time.Now(),
		What: fmt.Sprintf(format, args...),
	})
}

func (tl *Timeline) Events() []Event {
	tl.lock.Lock()
	defer tl.lock.Unlock()
	return append([]Event(nil), tl.events...)
}

// Index returns the sequence number of the first event matching what, or -1
func (tl *Timeline) Index(what string) int {
	for _, e := range tl.Events() {
		if e.What == what {
			return e.Seq
		}
	}
	return -1
}

// Whats is the event descriptions in order
func (tl *Timeline) Whats() []string {
	events := tl.Events()
	whats := make([]string, len(events))
	for i, e := range events {
		whats[i] = e.What
	}
	return whats
}
