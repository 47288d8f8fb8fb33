// Package debounce implements per-scene turn-completion detection.
//
// Rapid-fire messages in one scene are buffered until the adaptive wait
// elapses without a new arrival, then the buffer is frozen into a Turn and
// handed downstream. Every new message supersedes the previous wake-up —
// at most one live timer exists per scene at any instant — and a hard
// per-turn deadline bounds latency no matter how the wait model extends.
package debounce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/scene"
)

// Config tunes the debounce engine. Durations are wall-clock.
type Config struct {
	Coefficients Coefficients

	// FirstImageExtraWait is added when the first message of the open turn
	// is image-only (an image tends to be followed by commentary).
	FirstImageExtraWait time.Duration

	// PerImageExtraWait is added per distinct image reference seen in the
	// open turn (when the turn did not start image-only).
	PerImageExtraWait time.Duration

	// MaxHold bounds the time between a turn's first arrival and emission.
	MaxHold time.Duration

	// IdleTTL evicts stale scene state that escaped the normal flush path.
	// Zero disables the defensive sweep.
	IdleTTL time.Duration
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Coefficients:        DefaultCoefficients(),
		FirstImageExtraWait: 10 * time.Second,
		PerImageExtraWait:   5 * time.Second,
		MaxHold:             30 * time.Second,
		IdleTTL:             60 * time.Second,
	}
}

// Turn is a batch of consecutive messages in one scene, merged by the
// engine and treated as one unit for reply purposes.
type Turn struct {
	Scene         scene.Key
	Channel       string
	Messages      []bus.InboundMessage
	DirectedAtBot bool
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// FlushFunc receives completed turns. It is invoked outside the engine lock
// and must not block for long; hand off to a goroutine for slow work.
type FlushFunc func(Turn)

type sceneState struct {
	gen          uint64
	msgs         []bus.InboundMessage
	imageRefs    map[string]struct{}
	firstImage   bool // first message of the turn was image-only
	mentioned    bool
	channel      string
	firstArrival time.Time
	lastArrival  time.Time
	hardDeadline time.Time
	timer        *time.Timer
}

// Engine owns one debounce state machine per active scene. Scenes share
// nothing but the state table; a single mutex guards it, and flush callbacks
// always run outside that lock.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	scenes map[scene.Key]*sceneState
	flush  FlushFunc

	// seq issues wake-up generations. Engine-global so a generation can
	// never collide across teardown and recreation of the same scene.
	seq uint64

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewEngine creates an engine delivering completed turns to flush.
func NewEngine(cfg Config, flush FlushFunc) *Engine {
	return &Engine{
		cfg:    cfg,
		scenes: make(map[scene.Key]*sceneState),
		flush:  flush,
		now:    time.Now,
	}
}

// SetConfig swaps the tuning at runtime (config hot reload). Open turns keep
// their already-fixed hard deadline; only future computations see the change.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// ActiveScenes returns the number of scenes with an open turn.
func (e *Engine) ActiveScenes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scenes)
}

// OnMessage buffers msg into its scene and (re)schedules the scene's single
// wake-up. If the scene's hard deadline has already passed, the open turn is
// flushed first and msg starts a brand-new turn.
func (e *Engine) OnMessage(msg bus.InboundMessage) {
	key := msg.Scene
	now := e.now()

	var overdue *Turn

	e.mu.Lock()
	st := e.scenes[key]

	// Defensive eviction: state that somehow outlived its turn is reset
	// rather than extended.
	if st != nil && e.cfg.IdleTTL > 0 && now.Sub(st.lastArrival) > e.cfg.IdleTTL {
		st.stopTimer()
		delete(e.scenes, key)
		slog.Warn("debounce: evicted stale scene state", "scene", key.String())
		st = nil
	}

	// The deadline is a hard guarantee: a latecomer never extends it. If it
	// already passed, freeze the open turn now and open a fresh one.
	if st != nil && now.After(st.hardDeadline) {
		t := st.buildTurn(key, now)
		st.stopTimer()
		delete(e.scenes, key)
		overdue = &t
		st = nil
	}

	if st == nil {
		st = &sceneState{
			imageRefs:    make(map[string]struct{}),
			firstImage:   msg.ImageOnly(),
			channel:      msg.Channel,
			firstArrival: now,
			hardDeadline: now.Add(e.cfg.MaxHold),
		}
		e.scenes[key] = st
	}

	st.msgs = append(st.msgs, msg)
	st.lastArrival = now
	st.mentioned = st.mentioned || msg.MentionsBot
	if msg.ImageRef != "" {
		st.imageRefs[msg.ImageRef] = struct{}{}
	}

	// Supersede the previous wake-up: stop-then-reschedule keeps the
	// single-timer invariant; the generation check makes a lost race with
	// an already-fired timer harmless.
	e.seq++
	st.gen = e.seq
	st.stopTimer()

	wait := e.waitFor(st, msg)
	fireAt := now.Add(wait)
	if fireAt.After(st.hardDeadline) {
		fireAt = st.hardDeadline
	}
	delay := fireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}

	gen := st.gen
	st.timer = time.AfterFunc(delay, func() { e.fire(key, gen) })

	slog.Debug("debounce: message buffered",
		"scene", key.String(),
		"buffered", len(st.msgs),
		"wait", delay.String(),
	)
	e.mu.Unlock()

	if overdue != nil {
		slog.Debug("debounce: hard deadline flush", "scene", key.String(), "messages", len(overdue.Messages))
		e.flush(*overdue)
	}
}

// waitFor computes the adaptive wait for the scene's current buffer state.
// Caller holds the engine lock.
func (e *Engine) waitFor(st *sceneState, last bus.InboundMessage) time.Duration {
	l := plainLen(last.Content)
	p := endsTerminal(last.Content)
	wait := time.Duration(waitSeconds(e.cfg.Coefficients, l, p) * float64(time.Second))

	if st.firstImage {
		wait += e.cfg.FirstImageExtraWait
	} else if n := len(st.imageRefs); n > 0 {
		wait += time.Duration(n) * e.cfg.PerImageExtraWait
	}
	return wait
}

// fire closes the scene's open turn, provided gen is still the newest
// scheduled wake-up. A superseded generation finds the state mutated (or
// gone) and backs off — its turn belongs to a later timer.
func (e *Engine) fire(key scene.Key, gen uint64) {
	e.mu.Lock()
	st := e.scenes[key]
	if st == nil || st.gen != gen {
		e.mu.Unlock()
		return
	}
	turn := st.buildTurn(key, e.now())
	delete(e.scenes, key)
	e.mu.Unlock()

	slog.Debug("debounce: turn emitted",
		"scene", key.String(),
		"messages", len(turn.Messages),
		"held", turn.ClosedAt.Sub(turn.OpenedAt).String(),
	)
	e.flush(turn)
}

// Shutdown cancels all pending timers and discards open buffers without
// flushing — unfinished turns are an accepted loss boundary on restart.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, st := range e.scenes {
		st.stopTimer()
		delete(e.scenes, key)
	}
}

func (s *sceneState) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *sceneState) buildTurn(key scene.Key, closedAt time.Time) Turn {
	msgs := make([]bus.InboundMessage, len(s.msgs))
	copy(msgs, s.msgs)
	return Turn{
		Scene:         key,
		Channel:       s.channel,
		Messages:      msgs,
		DirectedAtBot: s.mentioned,
		OpenedAt:      s.firstArrival,
		ClosedAt:      closedAt,
	}
}
