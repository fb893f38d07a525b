package event

import (
	"errors"
	"sync"
)

// ErrStreamClosed is returned when subscribing to a torn-down session stream.
var ErrStreamClosed = errors.New("event stream closed")

const (
	subscriberBuffer = 256
	maxPending       = 256
)

// Stream is the single ordered outbound channel of one session. Publishing is
// fire-and-forget: while no subscriber is attached events accumulate in a
// bounded pending buffer (oldest dropped on overflow) and are flushed to the
// next subscriber, which is how a reconnecting client still receives the
// result of a turn that finished while it was away.
type Stream struct {
	mu       sync.Mutex
	pending  []Event
	sub      chan Event
	closed   bool
	onDetach func()
}

// NewStream returns an open stream with no subscriber.
func NewStream() *Stream {
	return &Stream{}
}

// Publish appends one event in production order. It never blocks: with an
// attached subscriber whose buffer is full, or on a closed stream, the event
// is dropped.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.sub != nil {
		select {
		case s.sub <- ev:
		default:
		}
		return
	}

	s.pending = append(s.pending, ev)
	if len(s.pending) > maxPending {
		s.pending = s.pending[len(s.pending)-maxPending:]
	}
}

// Subscribe attaches the single consumer, replacing any previous one, and
// replays buffered events first. The returned detach func must be called when
// the consumer stops reading.
func (s *Stream) Subscribe() (<-chan Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrStreamClosed
	}

	if s.sub != nil {
		close(s.sub)
	}

	ch := make(chan Event, subscriberBuffer)
	for _, ev := range s.pending {
		ch <- ev
	}
	s.pending = nil
	s.sub = ch

	detach := func() { s.detach(ch) }
	return ch, detach, nil
}

func (s *Stream) detach(ch chan Event) {
	s.mu.Lock()
	if s.sub != ch {
		s.mu.Unlock()
		return
	}
	s.sub = nil
	close(ch)
	fn := s.onDetach
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// NotifyDetach registers a callback fired when the subscriber detaches while
// the stream is still open. Used by the abort-on-disconnect policy to cancel
// an in-flight turn. Passing nil clears the callback.
func (s *Stream) NotifyDetach(fn func()) {
	s.mu.Lock()
	s.onDetach = fn
	s.mu.Unlock()
}

// Close tears the stream down: the subscriber channel is closed and further
// publishes are dropped.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.onDetach = nil
	s.pending = nil
	if s.sub != nil {
		close(s.sub)
		s.sub = nil
	}
}
