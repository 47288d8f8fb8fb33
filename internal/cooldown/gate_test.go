package cooldown

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cadencebot/cadence/internal/scene"
	"github.com/cadencebot/cadence/internal/store"
)

func testConfig() Config {
	return Config{
		Group:         Curve{Base: 30 * time.Second, Max: 10 * time.Minute, Growth: 2.0},
		Private:       Curve{Base: 5 * time.Second, Max: 2 * time.Minute, Growth: 2.0},
		DecayHalfLife: 5 * time.Minute,
		MinDelay:      800 * time.Millisecond,
		MaxDelay:      4500 * time.Millisecond,
		PerRune:       65 * time.Millisecond,
	}
}

// clockGate returns a gate whose clock is a settable logical time.
func clockGate(st store.RateLimitStore, cfg Config) (*Gate, *time.Time) {
	g := NewGate(st, cfg)
	current := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }
	return g, &current
}

func TestFreshSceneIsAdmitted(t *testing.T) {
	g, _ := clockGate(store.NewMemoryStores(), testConfig())
	d := g.CheckAdmission(context.Background(), scene.NewKey(scene.KindGroup, "g1"))
	if !d.Allowed {
		t.Fatalf("fresh scene denied: %+v", d)
	}
}

func TestEmissionOpensCooldownWindow(t *testing.T) {
	ctx := context.Background()
	g, clock := clockGate(store.NewMemoryStores(), testConfig())
	key := scene.NewKey(scene.KindGroup, "g1")

	rec, err := g.RecordEmission(ctx, key, 1, 24)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	// First emission: pressure was 0, so the window is the base cooldown.
	if want := clock.Add(30 * time.Second); !rec.CooldownUntil.Equal(want) {
		t.Fatalf("cooldown until %v, want %v", rec.CooldownUntil, want)
	}

	d := g.CheckAdmission(ctx, key)
	if d.Allowed {
		t.Fatal("admitted inside cooldown window")
	}
	if !d.RetryAt.Equal(rec.CooldownUntil) {
		t.Fatalf("retry at %v, want %v", d.RetryAt, rec.CooldownUntil)
	}

	*clock = clock.Add(31 * time.Second)
	if d := g.CheckAdmission(ctx, key); !d.Allowed {
		t.Fatalf("denied after window elapsed: %+v", d)
	}
}

func TestRapidEmissionsGrowTheWindow(t *testing.T) {
	ctx := context.Background()
	g, clock := clockGate(store.NewMemoryStores(), testConfig())
	key := scene.NewKey(scene.KindGroup, "g1")

	var windows []time.Duration
	for i := 0; i < 4; i++ {
		rec, err := g.RecordEmission(ctx, key, 1, 24)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		windows = append(windows, rec.CooldownUntil.Sub(*clock))
		*clock = clock.Add(time.Second)
	}

	for i := 1; i < len(windows); i++ {
		if windows[i] <= windows[i-1] {
			t.Fatalf("window %d (%v) did not grow past window %d (%v)",
				i, windows[i], i-1, windows[i-1])
		}
	}
}

func TestWindowIsCappedAtMax(t *testing.T) {
	ctx := context.Background()
	g, clock := clockGate(store.NewMemoryStores(), testConfig())
	key := scene.NewKey(scene.KindGroup, "g1")

	for i := 0; i < 20; i++ {
		rec, err := g.RecordEmission(ctx, key, 1, 24)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if w := rec.CooldownUntil.Sub(*clock); w > 10*time.Minute {
			t.Fatalf("window %v exceeds cap after %d emissions", w, i+1)
		}
	}
}

func TestSilenceDecaysPressure(t *testing.T) {
	ctx := context.Background()
	g, clock := clockGate(store.NewMemoryStores(), testConfig())
	key := scene.NewKey(scene.KindGroup, "g1")

	for i := 0; i < 5; i++ {
		if _, err := g.RecordEmission(ctx, key, 1, 24); err != nil {
			t.Fatalf("record: %v", err)
		}
		*clock = clock.Add(time.Second)
	}

	// Two half-lives of silence quarter the pressure.
	*clock = clock.Add(10 * time.Minute)
	rec, err := g.RecordEmission(ctx, key, 1, 24)
	if err != nil {
		t.Fatalf("record after silence: %v", err)
	}
	if w := rec.CooldownUntil.Sub(*clock); w > 2*time.Minute {
		t.Fatalf("window after long silence = %v, pressure did not decay", w)
	}
}

func TestPrivateCurveIsShorter(t *testing.T) {
	ctx := context.Background()
	g, clock := clockGate(store.NewMemoryStores(), testConfig())

	grec, _ := g.RecordEmission(ctx, scene.NewKey(scene.KindGroup, "x"), 1, 24)
	prec, _ := g.RecordEmission(ctx, scene.NewKey(scene.KindPrivate, "x"), 1, 24)
	if gw, pw := grec.CooldownUntil.Sub(*clock), prec.CooldownUntil.Sub(*clock); pw >= gw {
		t.Fatalf("private window %v not shorter than group window %v", pw, gw)
	}
}

func TestScenesDoNotShareCooldowns(t *testing.T) {
	ctx := context.Background()
	g, _ := clockGate(store.NewMemoryStores(), testConfig())

	if _, err := g.RecordEmission(ctx, scene.NewKey(scene.KindGroup, "busy"), 1, 24); err != nil {
		t.Fatalf("record: %v", err)
	}
	if d := g.CheckAdmission(ctx, scene.NewKey(scene.KindGroup, "quiet")); !d.Allowed {
		t.Fatalf("unrelated scene denied: %+v", d)
	}
}

type failingRateLimits struct {
	store.RateLimitStore
}

func (failingRateLimits) GetRateLimit(context.Context, string) (*store.RateLimitRecord, error) {
	return nil, context.DeadlineExceeded
}

func TestStoreErrorDeniesAdmission(t *testing.T) {
	g, _ := clockGate(failingRateLimits{}, testConfig())
	d := g.CheckAdmission(context.Background(), scene.NewKey(scene.KindGroup, "g1"))
	if d.Allowed {
		t.Fatal("admitted despite store error")
	}
	if d.RetryAt.IsZero() {
		t.Fatal("denial without a retry hint")
	}
}

type flakyRateLimits struct {
	store.RateLimitStore
	failures int
}

func (f *flakyRateLimits) UpdateRateLimit(ctx context.Context, key string, fn func(*store.RateLimitRecord)) (*store.RateLimitRecord, error) {
	if f.failures > 0 {
		f.failures--
		return nil, context.DeadlineExceeded
	}
	return f.RateLimitStore.UpdateRateLimit(ctx, key, fn)
}

func TestEmissionWriteRetriesOnceWithoutBackoff(t *testing.T) {
	ctx := context.Background()
	key := scene.NewKey(scene.KindGroup, "g1")

	flaky := &flakyRateLimits{RateLimitStore: store.NewMemoryStores(), failures: 1}
	g, _ := clockGate(flaky, testConfig())
	if _, err := g.RecordEmission(ctx, key, 1, 24); err != nil {
		t.Fatalf("single write failure not absorbed: %v", err)
	}

	broken := &flakyRateLimits{RateLimitStore: store.NewMemoryStores(), failures: 2}
	g, _ = clockGate(broken, testConfig())
	if _, err := g.RecordEmission(ctx, key, 1, 24); err == nil {
		t.Fatal("persistent write failure swallowed")
	}
}

func TestTypingDelay(t *testing.T) {
	g := NewGate(store.NewMemoryStores(), testConfig())

	if d := g.TypingDelay(""); d != 800*time.Millisecond {
		t.Fatalf("empty content delay = %v, want the floor", d)
	}
	if d := g.TypingDelay(strings.Repeat("a", 500)); d != 4500*time.Millisecond {
		t.Fatalf("long content delay = %v, want the ceiling", d)
	}

	short := g.TypingDelay("ok")
	long := g.TypingDelay("a considerably longer reply")
	if long <= short {
		t.Fatalf("delay not monotone: %v for short, %v for long", short, long)
	}

	// Deterministic: same input, same delay.
	if a, b := g.TypingDelay("hello"), g.TypingDelay("hello"); a != b {
		t.Fatalf("delay not deterministic: %v vs %v", a, b)
	}

	// Wide runes count by display width.
	if cjk, ascii := g.TypingDelay("你好"), g.TypingDelay("hi"); cjk <= ascii {
		t.Fatalf("CJK delay %v not above same-rune-count ASCII %v", cjk, ascii)
	}
}
