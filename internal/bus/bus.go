package bus

import (
	"context"
	"sync"

	"github.com/crew-io/crewd/pkg/protocol"
)

// Bus is an in-process publish/subscribe broker with one unbounded FIFO queue
// per subscriber. Publish never blocks. Components coordinate only through
// channel names and message contents, never through direct references.
type Bus struct {
	mu   sync.Mutex
	subs map[protocol.Channel]map[*Subscription]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	subs := make(map[protocol.Channel]map[*Subscription]struct{})
	for _, ch := range protocol.Channels() {
		subs[ch] = make(map[*Subscription]struct{})
	}
	return &Bus{subs: subs}
}

// Publish delivers msg to the queue of every subscriber currently registered
// on msg.Channel. Subscribers that register later never see msg.
func (b *Bus) Publish(msg protocol.Message) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs[msg.Channel]))
	for s := range b.subs[msg.Channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.enqueue(msg)
	}
}

// Subscribe registers a new queue on channel and returns a live Subscription.
// The subscription is released when Close is called or ctx is cancelled,
// whichever comes first; both paths unregister the queue.
func (b *Bus) Subscribe(ctx context.Context, channel protocol.Channel) *Subscription {
	s := newSubscription(channel, func(sub *Subscription) {
		b.mu.Lock()
		delete(b.subs[channel], sub)
		b.mu.Unlock()
	})

	b.mu.Lock()
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.done:
			}
		}()
	}
	return s
}

// Snapshot returns the buffered, not-yet-consumed messages across every
// subscriber of channel. Diagnostic only; queues are left untouched.
func (b *Bus) Snapshot(channel protocol.Channel) []protocol.Message {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	var out []protocol.Message
	for _, s := range targets {
		out = append(out, s.pending()...)
	}
	return out
}

// SubscriberCount returns the number of active subscriptions on channel.
func (b *Bus) SubscriberCount(channel protocol.Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
