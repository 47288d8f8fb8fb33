package debounce

import (
	"strings"
	"unicode"
)

// Coefficients parameterize the turn-completion wait model:
//
//	wait = w1·L + w2·L² + w3·P + b
//
// L is the plain length of the most recent message, P is 1 when it ends with
// terminal punctuation. w1 > 0 and w2 < 0 give a downward-opening parabola:
// short fragments wait a little, medium-length messages wait longest, long or
// visibly complete messages fire almost immediately.
type Coefficients struct {
	W1   float64
	W2   float64
	W3   float64
	Bias float64
}

// DefaultCoefficients are the reference tuning, in seconds.
func DefaultCoefficients() Coefficients {
	return Coefficients{W1: 0.5, W2: -0.02, W3: -2.0, Bias: 1.5}
}

// terminalRunes are the strong end-of-turn markers (CJK and ASCII).
const terminalRunes = "。？！?!~."

// endsTerminal reports whether s ends with a strong end-of-turn marker.
func endsTerminal(s string) bool {
	t := strings.TrimRightFunc(s, unicode.IsSpace)
	if t == "" {
		return false
	}
	r := []rune(t)
	return strings.ContainsRune(terminalRunes, r[len(r)-1])
}

// plainLen counts the effective characters of s: whitespace stripped,
// remaining runes counted once each.
func plainLen(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		n++
	}
	return n
}

// waitSeconds evaluates the quadratic wait model for a message of plain
// length l, with terminal punctuation flag p. Negative results clamp to zero
// (fire immediately).
func waitSeconds(c Coefficients, l int, p bool) float64 {
	fl := float64(l)
	w := c.W1*fl + c.W2*fl*fl + c.Bias
	if p {
		w += c.W3
	}
	if w < 0 {
		return 0
	}
	return w
}
