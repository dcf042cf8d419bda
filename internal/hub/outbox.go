package hub

import (
	"context"
	"sync"
	"sync/atomic"
)

// outbox is a bounded per-connection queue. When full, the oldest message
// is dropped to make room, so a slow reader costs only its own freshness.
type outbox struct {
	mu     sync.Mutex
	ring   []Message
	head   int
	n      int
	closed bool

	// ready holds a token while messages are waiting.
	ready chan struct{}
	done  chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newOutbox(size int) *outbox {
	if size < 1 {
		size = 1
	}
	return &outbox{
		ring:  make([]Message, size),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push enqueues m without blocking and reports whether m was accepted.
func (o *outbox) push(m Message) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if o.n == len(o.ring) {
		o.ring[o.head] = Message{}
		o.head = (o.head + 1) % len(o.ring)
		o.n--
		o.dropped.Add(1)
	}
	o.ring[(o.head+o.n)%len(o.ring)] = m
	o.n++
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return true
}

func (o *outbox) pop() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.n == 0 {
		return Message{}, false
	}
	m := o.ring[o.head]
	o.ring[o.head] = Message{}
	o.head = (o.head + 1) % len(o.ring)
	o.n--
	o.sent.Add(1)
	return m, true
}

// next blocks until a message is available, the outbox is closed or ctx is
// done. Messages queued before close are still delivered.
func (o *outbox) next(ctx context.Context) (Message, error) {
	for {
		if m, ok := o.pop(); ok {
			return m, nil
		}
		select {
		case <-o.ready:
		case <-o.done:
			if m, ok := o.pop(); ok {
				return m, nil
			}
			return Message{}, ErrClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
}
