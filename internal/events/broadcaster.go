// internal/events/broadcaster.go
package events

import (
	"log"
	"sync"
)

// Broadcaster is the core's only contract with the progress sink.
type Broadcaster interface {
	Publish(Event)
}

// NopBroadcaster is for wiring the core without any subscriber; correctness
// never depends on someone listening.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(Event) {}

// ChanBroadcaster fans events out to subscriber channels. Publish never
// blocks: a subscriber that cannot keep up loses events, dispatch and
// correlation do not.
type ChanBroadcaster struct {
	mu     sync.Mutex
	buffer int
	subs   []chan Event
}

func NewChanBroadcaster(buffer int) *ChanBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &ChanBroadcaster{buffer: buffer}
}

// Subscribe returns a channel that receives every event published after the
// call, best effort.
func (b *ChanBroadcaster) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *ChanBroadcaster) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]chan Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Println("⚠️ dropping", ev.EventType(), "event: subscriber is slow")
		}
	}
}

var _ Broadcaster = (*ChanBroadcaster)(nil)
var _ Broadcaster = NopBroadcaster{}
