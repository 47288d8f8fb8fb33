package bus

import (
	"context"
	"testing"
	"time"

	"github.com/cadencebot/cadence/internal/scene"
)

func TestMessageBusRoundTrip(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	in := InboundMessage{
		ID:      "m1",
		Channel: "telegram",
		Scene:   scene.NewKey(scene.KindPrivate, "42"),
		Content: "hello",
	}
	b.PublishInbound(in)

	got, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("ConsumeInbound returned not-ok")
	}
	if got.ID != "m1" || got.Content != "hello" {
		t.Fatalf("got %+v", got)
	}

	b.PublishOutbound(OutboundMessage{Channel: "telegram", Content: "hi"})
	out, ok := b.SubscribeOutbound(ctx)
	if !ok || out.Content != "hi" {
		t.Fatalf("outbound = %+v ok=%v", out, ok)
	}
}

func TestConsumeInboundStopsOnCancel(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Fatal("expected not-ok after cancel")
	}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	b := NewMessageBus()
	got := make(chan Event, 1)
	b.Subscribe("c1", func(ev Event) { got <- ev })

	b.Broadcast(Event{Name: "turn"})
	select {
	case ev := <-got:
		if ev.Name != "turn" {
			t.Fatalf("event name = %q", ev.Name)
		}
	default:
		t.Fatal("subscriber not invoked")
	}

	b.Unsubscribe("c1")
	b.Broadcast(Event{Name: "turn"})
	select {
	case <-got:
		t.Fatal("unsubscribed handler invoked")
	default:
	}
}

func TestDedupeCache(t *testing.T) {
	c := NewDedupeCache(50*time.Millisecond, 4)

	if c.Seen("a") {
		t.Fatal("first sighting reported as seen")
	}
	if !c.Seen("a") {
		t.Fatal("second sighting not reported as seen")
	}

	time.Sleep(60 * time.Millisecond)
	if c.Seen("a") {
		t.Fatal("expired entry still reported as seen")
	}
}

func TestDedupeCacheCap(t *testing.T) {
	c := NewDedupeCache(time.Minute, 3)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		c.Seen(k)
	}
	if c.Len() > 3 {
		t.Fatalf("cache grew past cap: %d", c.Len())
	}
}
