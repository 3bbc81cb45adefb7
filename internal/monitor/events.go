package monitor

import (
	"sync"

	"github.com/tphakala/vinyl-go/internal/datastore"
)

// subscriberBuffer bounds each subscriber's backlog. A slow consumer loses
// events rather than stalling the pipeline.
const subscriberBuffer = 16

// broadcaster fans confirmed scrobbles out to API subscribers.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan datastore.ScrobbleRecord
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan datastore.ScrobbleRecord)}
}

// subscribe registers a new consumer. The cancel function must be called
// when the consumer goes away.
func (b *broadcaster) subscribe() (<-chan datastore.ScrobbleRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan datastore.ScrobbleRecord, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers the record to every subscriber without blocking.
func (b *broadcaster) publish(record datastore.ScrobbleRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- record:
		default:
		}
	}
}
