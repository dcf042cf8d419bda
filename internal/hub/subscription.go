package hub

import (
	"context"
	"sync"
)

// Kind distinguishes dashboard subscriptions from single-document feeds.
type Kind int

const (
	KindDashboard Kind = iota
	KindDocument
)

func (k Kind) String() string {
	if k == KindDocument {
		return "document"
	}
	return "dashboard"
}

// State is a subscription's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "connecting"
}

// Subscription is one observer connection. It is owned by the hub and lives
// only as long as the connection.
type Subscription struct {
	ID         string
	Kind       Kind
	DocumentID string // KindDocument only

	out *outbox

	mu       sync.Mutex
	state    State
	page     int
	pageSize int
	live     bool
	lastHash uint64
	hashed   bool
}

// View is a point-in-time copy of a subscription's settings.
type View struct {
	State    State
	Page     int
	PageSize int
	Live     bool
}

// View returns the subscription's current settings.
func (s *Subscription) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{State: s.state, Page: s.page, PageSize: s.pageSize, Live: s.live}
}

// Next blocks until a message is ready for the client. It returns ErrClosed
// once the subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	return s.out.next(ctx)
}

// Pending returns the number of queued messages.
func (s *Subscription) Pending() int {
	return s.out.len()
}

// Sent returns how many messages were handed to the transport.
func (s *Subscription) Sent() uint64 { return s.out.sent.Load() }

// Dropped returns how many messages were discarded on overflow.
func (s *Subscription) Dropped() uint64 { return s.out.dropped.Load() }

func (s *Subscription) send(m Message) {
	s.out.push(m)
}

// unsolicited reports whether the subscription accepts pushes it did not ask
// for. Frozen dashboards accept none.
func (s *Subscription) unsolicited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	return s.Kind == KindDocument || s.live
}
