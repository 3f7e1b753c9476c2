// Package transport exposes the mutation engine and query surface over
// HTTP, and fans out update-bus notifications as Server-Sent Events,
// grounded on fruitsalade/internal/events.Broadcaster and
// phase0/internal/api.Server.
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/canopyfs/canopy/internal/metrics"
)

// Event is the wire shape of an update-bus notification (spec §4.6).
type Event struct {
	Type      string `json:"type"` // "update" or "updateall"
	Path      string `json:"path,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster fans out update-bus notifications to SSE subscribers. It
// implements updatebus.Subscriber.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new SSE client and returns its event channel.
// The caller must Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(b.Count())
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(b.Count())
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// OnUpdate implements updatebus.Subscriber.
func (b *Broadcaster) OnUpdate(dirPath string) {
	b.publish(Event{Type: "update", Path: dirPath})
}

// OnUpdateAll implements updatebus.Subscriber.
func (b *Broadcaster) OnUpdateAll() {
	b.publish(Event{Type: "updateall"})
}

func (b *Broadcaster) publish(e Event) {
	e.Timestamp = time.Now().Unix()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	metrics.RecordUpdateEmitted(e.Type)
}

func marshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
