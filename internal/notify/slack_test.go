package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crew-io/crewd/internal/bus"
	"github.com/crew-io/crewd/pkg/protocol"
)

func TestRun_PostsAlerts(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Text string `json:"text"`
		}
		json.Unmarshal(body, &payload)
		received <- payload.Text
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	b := bus.New()
	n := NewSlack(srv.URL, nil)
	n.HTTPClient = srv.Client()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx, b)

	// Give the notifier a moment to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount(protocol.ChannelAlert) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notifier never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish(protocol.NewMessage(protocol.ChannelAlert, "builder", map[string]any{
		"event": "specialist_error",
		"step":  "implement",
		"error": "tool exploded",
	}))

	select {
	case text := <-received:
		for _, want := range []string{"builder", "implement", "tool exploded"} {
			if !strings.Contains(text, want) {
				t.Errorf("webhook text %q missing %q", text, want)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never called")
	}
}

func TestRun_DeliveryFailureDoesNotStopNotifier(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	b := bus.New()
	n := NewSlack(srv.URL, nil)
	n.HTTPClient = srv.Client()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		n.Run(ctx, b)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount(protocol.ChannelAlert) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notifier never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish(protocol.NewMessage(protocol.ChannelAlert, "builder", map[string]any{"error": "first"}))
	b.Publish(protocol.NewMessage(protocol.ChannelAlert, "builder", map[string]any{"error": "second"}))

	deadline = time.Now().Add(3 * time.Second)
	for calls < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("notifier stopped after failure: %d calls", calls)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
