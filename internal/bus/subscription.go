package bus

import (
	"sync"

	"github.com/crew-io/crewd/pkg/protocol"
)

// Subscription is one subscriber's view of a channel: an unbounded FIFO queue
// drained through C. Messages enqueued before Close are delivered in order;
// after Close, C is closed and the queue is discarded.
type Subscription struct {
	channel protocol.Channel

	mu     sync.Mutex
	queue  []protocol.Message
	wake   chan struct{}
	done   chan struct{}
	closed bool

	out        chan protocol.Message
	unregister func(*Subscription)
	closeOnce  sync.Once
}

func newSubscription(channel protocol.Channel, unregister func(*Subscription)) *Subscription {
	s := &Subscription{
		channel:    channel,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		out:        make(chan protocol.Message),
		unregister: unregister,
	}
	go s.pump()
	return s
}

// Channel returns the channel this subscription is registered on.
func (s *Subscription) Channel() protocol.Channel { return s.channel }

// C returns the receive side of the subscription. It is closed when the
// subscription is released.
func (s *Subscription) C() <-chan protocol.Message { return s.out }

// Close releases the subscription: the queue is unregistered from the bus and
// C is closed. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.unregister(s)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) enqueue(msg protocol.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pending returns a copy of the undelivered queue.
func (s *Subscription) pending() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.queue))
	copy(out, s.queue)
	return out
}

// pump moves messages from the queue to the out channel, preserving enqueue
// order. It exits once the subscription is closed.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next protocol.Message
		have := false
		if len(s.queue) > 0 {
			next = s.queue[0]
			have = true
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- next:
			s.mu.Lock()
			s.queue = s.queue[1:]
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
