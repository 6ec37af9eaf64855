package flow

import (
	"sync"
	"time"
)

type EventKind int

const (
	// EventState is sent on every state transition.
	EventState EventKind = iota
	// EventUnderrun is sent for each underrun the sink reports.
	EventUnderrun
	// EventRewind is sent when repeat playback starts a new pass.
	EventRewind
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventUnderrun:
		return "underrun"
	case EventRewind:
		return "rewind"
	}
	return "unknown"
}

// Event reports something that happened to a run. Err is set on underruns
// and on the transition to Failed.
type Event struct {
	Run   string
	Kind  EventKind
	State State
	Err   error
	Time  time.Time
}

const subscriberBuffer = 64

// hub fans events out to subscribers without ever blocking the sender. A
// subscriber that falls behind misses events.
type hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
