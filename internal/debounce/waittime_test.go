package debounce

import (
	"math"
	"testing"
)

func TestWaitSecondsReferencePoints(t *testing.T) {
	c := DefaultCoefficients()

	tests := []struct {
		name string
		l    int
		p    bool
		want float64
	}{
		{"short fragment", 2, false, 2.42},
		{"medium message", 12, false, 4.62},
		{"long message clamps to zero", 30, false, 0},
		{"short with terminal punctuation", 2, true, 0.42},
		{"medium with terminal punctuation", 12, true, 2.62},
		{"punctuation floor at zero", 1, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := waitSeconds(c, tt.l, tt.p)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("waitSeconds(L=%d, P=%v) = %v, want %v", tt.l, tt.p, got, tt.want)
			}
		})
	}
}

func TestWaitSecondsPunctuationSubtractsFixedAmount(t *testing.T) {
	c := DefaultCoefficients()
	for l := 0; l <= 40; l++ {
		plain := waitSeconds(c, l, false)
		punct := waitSeconds(c, l, true)
		want := plain + c.W3
		if want < 0 {
			want = 0
		}
		if math.Abs(punct-want) > 1e-9 {
			t.Fatalf("L=%d: P=1 result %v, want %v", l, punct, want)
		}
	}
}

func TestEndsTerminal(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"好的。", true},
		{"really?", true},
		{"done!", true},
		{"嗯嗯~", true},
		{"ok.", true},
		{"wait a sec", false},
		{"trailing space? ", true},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := endsTerminal(tt.in); got != tt.want {
			t.Errorf("endsTerminal(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPlainLen(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"hi", 2},
		{"今天 天气 真好", 6},
		{"  spaced  out  ", 9},
		{"", 0},
		{"\n\t ", 0},
	}
	for _, tt := range tests {
		if got := plainLen(tt.in); got != tt.want {
			t.Errorf("plainLen(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
