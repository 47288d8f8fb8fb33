package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/cooldown"
	"github.com/cadencebot/cadence/internal/debounce"
	"github.com/cadencebot/cadence/internal/scene"
	"github.com/cadencebot/cadence/internal/store"
)

type stubPipeline struct {
	mu      sync.Mutex
	calls   int
	replies []string
	err     error
	delay   time.Duration
}

func (p *stubPipeline) Reply(ctx context.Context, _ debounce.Turn) (Reply, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return Reply{}, p.err
	}
	return Reply{Messages: p.replies}, nil
}

func (p *stubPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type outboundCollector struct {
	mu   sync.Mutex
	msgs []bus.OutboundMessage
	ch   chan bus.OutboundMessage
}

func newOutboundCollector() *outboundCollector {
	return &outboundCollector{ch: make(chan bus.OutboundMessage, 16)}
}

func (c *outboundCollector) PublishOutbound(msg bus.OutboundMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.ch <- msg
}

func (c *outboundCollector) wait(t *testing.T) bus.OutboundMessage {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message within timeout")
		return bus.OutboundMessage{}
	}
}

func (c *outboundCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func fastGateConfig() cooldown.Config {
	return cooldown.Config{
		Group:         cooldown.Curve{Base: 30 * time.Second, Max: 10 * time.Minute, Growth: 2.0},
		Private:       cooldown.Curve{Base: 5 * time.Second, Max: 2 * time.Minute, Growth: 2.0},
		DecayHalfLife: 5 * time.Minute,
		MinDelay:      time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		PerRune:       0,
	}
}

func testTurn(key scene.Key) debounce.Turn {
	return debounce.Turn{
		Scene:   key,
		Channel: "test",
		Messages: []bus.InboundMessage{
			{ID: "m1", Channel: "test", Scene: key, SenderID: "u1", Kind: bus.MsgText, Content: "hello"},
		},
		OpenedAt: time.Now(),
		ClosedAt: time.Now(),
	}
}

func TestAdmittedTurnDeliversAndAccounts(t *testing.T) {
	mem := store.NewMemoryStores()
	gate := cooldown.NewGate(mem, fastGateConfig())
	out := newOutboundCollector()
	pipe := &stubPipeline{replies: []string{"hi there"}}
	d := NewDispatcher(gate, pipe, out)

	key := scene.NewKey(scene.KindGroup, "g1")
	d.HandleTurn(context.Background(), testTurn(key))

	msg := out.wait(t)
	if msg.Content != "hi there" || msg.Scene != key || msg.Channel != "test" {
		t.Fatalf("outbound = %+v", msg)
	}
	d.Wait()

	rec, err := mem.GetRateLimit(context.Background(), key.String())
	if err != nil {
		t.Fatalf("emission not recorded: %v", err)
	}
	if !rec.CooldownUntil.After(time.Now()) {
		t.Fatalf("cooldown window not opened: %+v", rec)
	}
}

func TestSuppressedTurnSkipsPipeline(t *testing.T) {
	mem := store.NewMemoryStores()
	gate := cooldown.NewGate(mem, fastGateConfig())
	out := newOutboundCollector()
	pipe := &stubPipeline{replies: []string{"should not appear"}}
	d := NewDispatcher(gate, pipe, out)

	key := scene.NewKey(scene.KindGroup, "g1")
	if _, err := gate.RecordEmission(context.Background(), key, 1, 24); err != nil {
		t.Fatalf("prime cooldown: %v", err)
	}

	d.HandleTurn(context.Background(), testTurn(key))
	d.Wait()

	if pipe.callCount() != 0 {
		t.Fatal("pipeline called for a suppressed turn")
	}
	if out.count() != 0 {
		t.Fatal("outbound sent for a suppressed turn")
	}
}

func TestPipelineSilenceSendsNothing(t *testing.T) {
	mem := store.NewMemoryStores()
	gate := cooldown.NewGate(mem, fastGateConfig())
	out := newOutboundCollector()
	d := NewDispatcher(gate, &stubPipeline{}, out)

	key := scene.NewKey(scene.KindGroup, "g1")
	d.HandleTurn(context.Background(), testTurn(key))
	d.Wait()

	if out.count() != 0 {
		t.Fatal("outbound sent despite silent reply")
	}
	// Silence costs no cooldown budget.
	if _, err := mem.GetRateLimit(context.Background(), key.String()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("silent turn recorded an emission: %v", err)
	}
}

func TestPipelineErrorSendsNothing(t *testing.T) {
	mem := store.NewMemoryStores()
	gate := cooldown.NewGate(mem, fastGateConfig())
	out := newOutboundCollector()
	d := NewDispatcher(gate, &stubPipeline{err: errors.New("model timeout")}, out)

	d.HandleTurn(context.Background(), testTurn(scene.NewKey(scene.KindGroup, "g1")))
	d.Wait()

	if out.count() != 0 {
		t.Fatal("outbound sent despite pipeline error")
	}
}

func TestMultiMessageReplyDeliversInOrder(t *testing.T) {
	mem := store.NewMemoryStores()
	gate := cooldown.NewGate(mem, fastGateConfig())
	out := newOutboundCollector()
	pipe := &stubPipeline{replies: []string{"one", "two", "three"}}
	d := NewDispatcher(gate, pipe, out)

	d.HandleTurn(context.Background(), testTurn(scene.NewKey(scene.KindGroup, "g1")))
	d.Wait()

	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got := out.msgs[i].Content; got != w {
			t.Fatalf("message %d = %q, want %q", i, got, w)
		}
	}
}

func TestSameSceneTurnsSerialize(t *testing.T) {
	mem := store.NewMemoryStores()
	gate := cooldown.NewGate(mem, fastGateConfig())
	out := newOutboundCollector()
	pipe := &stubPipeline{replies: []string{"r"}, delay: 30 * time.Millisecond}
	d := NewDispatcher(gate, pipe, out)

	key := scene.NewKey(scene.KindGroup, "g1")
	d.HandleTurn(context.Background(), testTurn(key))
	d.HandleTurn(context.Background(), testTurn(key))
	d.Wait()

	// The first turn opens a cooldown window, so the second (serialized
	// behind it) must be suppressed — exactly one delivery.
	if out.count() != 1 {
		t.Fatalf("%d deliveries, want 1 (second turn should hit the fresh cooldown)", out.count())
	}
}

func TestCancelledContextAbortsDelivery(t *testing.T) {
	mem := store.NewMemoryStores()
	cfg := fastGateConfig()
	cfg.MinDelay = time.Hour // typing pause far beyond test timeout
	cfg.MaxDelay = time.Hour
	gate := cooldown.NewGate(mem, cfg)
	out := newOutboundCollector()
	d := NewDispatcher(gate, &stubPipeline{replies: []string{"r"}}, out)

	ctx, cancel := context.WithCancel(context.Background())
	d.HandleTurn(ctx, testTurn(scene.NewKey(scene.KindGroup, "g1")))
	time.Sleep(20 * time.Millisecond)
	cancel()
	d.Wait()

	if out.count() != 0 {
		t.Fatal("delivery escaped a cancelled context")
	}
	// Aborted sends burn no cooldown budget.
	if _, err := mem.GetRateLimit(context.Background(), "group:g1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("aborted turn recorded an emission: %v", err)
	}
}
