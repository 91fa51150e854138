package bus

import (
	"context"
	"testing"
	"time"

	"github.com/crew-io/crewd/pkg/protocol"
)

func publishN(b *Bus, channel protocol.Channel, n int) {
	for i := 0; i < n; i++ {
		b.Publish(protocol.NewMessage(channel, "tester", map[string]any{"seq": i}))
	}
}

func recvSeq(t *testing.T, sub *Subscription, n int) []int {
	t.Helper()
	var out []int
	for i := 0; i < n; i++ {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed after %d messages, want %d", len(out), n)
			}
			seq, _ := msg.Payload["seq"].(int)
			out = append(out, seq)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d messages, want %d", len(out), n)
		}
	}
	return out
}

func TestPublish_FIFOPerSubscriber(t *testing.T) {
	b := New()
	s1 := b.Subscribe(context.Background(), protocol.ChannelStatus)
	defer s1.Close()
	s2 := b.Subscribe(context.Background(), protocol.ChannelStatus)
	defer s2.Close()

	publishN(b, protocol.ChannelStatus, 50)

	for name, sub := range map[string]*Subscription{"s1": s1, "s2": s2} {
		got := recvSeq(t, sub, 50)
		for i, seq := range got {
			if seq != i {
				t.Fatalf("%s: message %d has seq %d, want %d", name, i, seq, i)
			}
		}
	}
}

func TestSubscribe_NoBacklogDelivery(t *testing.T) {
	b := New()
	b.Publish(protocol.NewMessage(protocol.ChannelStatus, "tester", map[string]any{"early": true}))

	sub := b.Subscribe(context.Background(), protocol.ChannelStatus)
	defer sub.Close()

	select {
	case msg := <-sub.C():
		t.Fatalf("late subscriber received pre-subscription message: %v", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}

	b.Publish(protocol.NewMessage(protocol.ChannelStatus, "tester", map[string]any{"late": true}))
	select {
	case msg := <-sub.C():
		if _, ok := msg.Payload["late"]; !ok {
			t.Fatalf("got unexpected message %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("post-subscription message not delivered")
	}
}

func TestPublish_OnlyMatchingChannel(t *testing.T) {
	b := New()
	status := b.Subscribe(context.Background(), protocol.ChannelStatus)
	defer status.Close()
	alert := b.Subscribe(context.Background(), protocol.ChannelAlert)
	defer alert.Close()

	b.Publish(protocol.NewMessage(protocol.ChannelAlert, "tester", map[string]any{"event": "boom"}))

	select {
	case msg := <-status.C():
		t.Fatalf("status subscriber got alert message: %v", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case <-alert.C():
	case <-time.After(time.Second):
		t.Fatal("alert subscriber did not receive message")
	}
}

func TestSnapshot_NonDestructive(t *testing.T) {
	b := New()
	sub := b.Subscribe(context.Background(), protocol.ChannelArtifact)
	defer sub.Close()

	publishN(b, protocol.ChannelArtifact, 5)

	// Give the pump a moment; at most one message can be in flight on the
	// unbuffered out channel, the rest stay queued.
	time.Sleep(50 * time.Millisecond)
	buffered := b.Snapshot(protocol.ChannelArtifact)
	if len(buffered) < 4 {
		t.Fatalf("snapshot returned %d messages, want at least 4", len(buffered))
	}

	got := recvSeq(t, sub, 5)
	for i, seq := range got {
		if seq != i {
			t.Fatalf("after snapshot, message %d has seq %d", i, seq)
		}
	}
}

func TestClose_Unregisters(t *testing.T) {
	b := New()
	sub := b.Subscribe(context.Background(), protocol.ChannelStatus)
	if n := b.SubscriberCount(protocol.ChannelStatus); n != 1 {
		t.Fatalf("subscriber count = %d, want 1", n)
	}

	sub.Close()
	sub.Close() // idempotent

	if n := b.SubscriberCount(protocol.ChannelStatus); n != 0 {
		t.Fatalf("subscriber count after close = %d, want 0", n)
	}

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("received message on closed subscription")
		}
	case <-time.After(time.Second):
		t.Fatal("C was not closed")
	}
}

func TestSubscribe_ContextCancelReleases(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, protocol.ChannelStatus)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount(protocol.ChannelStatus) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after context cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("received message after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("C was not closed after cancel")
	}
}

func TestPublish_DoesNotBlockWithoutConsumer(t *testing.T) {
	b := New()
	sub := b.Subscribe(context.Background(), protocol.ChannelStatus)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		publishN(b, protocol.ChannelStatus, 10_000)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked with an idle subscriber")
	}
}
