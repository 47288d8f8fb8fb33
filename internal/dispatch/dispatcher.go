package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/cooldown"
	"github.com/cadencebot/cadence/internal/debounce"
	"github.com/cadencebot/cadence/internal/scene"
)

var tracer = otel.Tracer("cadence/dispatch")

// Dispatcher takes completed turns through the admission gate, asks the
// reply pipeline for content, and delivers it paced like a human typist.
// Turns for different scenes run concurrently; turns for one scene serialize.
type Dispatcher struct {
	gate     *cooldown.Gate
	pipeline ReplyPipeline
	out      bus.OutboundPublisher

	mu     sync.Mutex
	scenes map[scene.Key]*sync.Mutex

	wg sync.WaitGroup

	// sleep is a test seam over the typing pause.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewDispatcher wires the gate, pipeline, and outbound publisher together.
func NewDispatcher(gate *cooldown.Gate, pipeline ReplyPipeline, out bus.OutboundPublisher) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		pipeline: pipeline,
		out:      out,
		scenes:   make(map[scene.Key]*sync.Mutex),
		sleep:    sleepCtx,
	}
}

// HandleTurn processes turn asynchronously. Safe to call from the debounce
// engine's flush path.
func (d *Dispatcher) HandleTurn(ctx context.Context, turn debounce.Turn) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(ctx, turn)
	}()
}

// Wait blocks until all in-flight turns settle (shutdown path).
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) sceneLock(key scene.Key) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.scenes[key]
	if !ok {
		m = &sync.Mutex{}
		d.scenes[key] = m
	}
	return m
}

func (d *Dispatcher) process(ctx context.Context, turn debounce.Turn) {
	ctx, span := tracer.Start(ctx, "dispatch.turn", trace.WithAttributes(
		attribute.String("scene", turn.Scene.String()),
		attribute.String("channel", turn.Channel),
		attribute.Int("messages", len(turn.Messages)),
		attribute.Bool("directed_at_bot", turn.DirectedAtBot),
	))
	defer span.End()

	lock := d.sceneLock(turn.Scene)
	lock.Lock()
	defer lock.Unlock()

	// Admission first: a denied scene costs no pipeline call.
	decision := d.gate.CheckAdmission(ctx, turn.Scene)
	if !decision.Allowed {
		span.SetAttributes(attribute.Bool("admitted", false))
		slog.Debug("dispatch: turn suppressed by cooldown",
			"scene", turn.Scene.String(),
			"retry_at", decision.RetryAt.Format(time.RFC3339),
		)
		return
	}

	reply, err := d.pipeline.Reply(ctx, turn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply pipeline failed")
		slog.Error("dispatch: reply pipeline failed", "scene", turn.Scene.String(), "error", err)
		return
	}
	if len(reply.Messages) == 0 {
		span.SetAttributes(attribute.Bool("silent", true))
		slog.Debug("dispatch: pipeline chose silence", "scene", turn.Scene.String())
		return
	}

	totalLen := 0
	for i, content := range reply.Messages {
		// Pace every message; the pause covers "reading" plus "typing".
		if !d.sleep(ctx, d.gate.TypingDelay(content)) {
			span.SetAttributes(attribute.Int("delivered", i))
			return
		}
		d.out.PublishOutbound(bus.OutboundMessage{
			Channel: turn.Channel,
			Scene:   turn.Scene,
			Content: content,
		})
		totalLen += len(content)
	}

	// Account the emission only after delivery so an aborted send does not
	// burn cooldown budget.
	if _, err := d.gate.RecordEmission(ctx, turn.Scene, len(reply.Messages), totalLen); err != nil {
		span.RecordError(err)
		slog.Error("dispatch: emission accounting failed", "scene", turn.Scene.String(), "error", err)
	}
	span.SetAttributes(attribute.Int("delivered", len(reply.Messages)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
