// Package reload delivers widget reload signals. Broadcaster fans signals out
// inside one process; Watcher turns changes to the shared document and
// preference files into signals for another process.
package reload

import (
	"sync"
	"time"

	"tripstore/pkg/domain"
)

// Event is one reload request for a widget kind.
type Event struct {
	Kind string
	At   time.Time
}

// Broadcaster implements domain.ReloadNotifier by fanning every signal out to
// its subscribers. Slow subscribers drop events rather than block the sender.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
	closed bool
}

var _ domain.ReloadNotifier = (*Broadcaster)(nil)

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event), now: time.Now}
}

// Subscribe registers a listener with the given buffer. The returned cancel
// func closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// ReloadTimelines sends kind to every subscriber.
func (b *Broadcaster) ReloadTimelines(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := Event{Kind: kind, At: b.now()}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription; later subscriptions are closed at once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
}
