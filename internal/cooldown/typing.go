package cooldown

import (
	"time"

	"github.com/mattn/go-runewidth"
)

// TypingDelay returns how long to "type" before sending content. It scales
// with display width (CJK counts double, like a human keyboard would feel)
// and is deterministic and monotone in the content length.
func (g *Gate) TypingDelay(content string) time.Duration {
	cfg := g.config()
	w := runewidth.StringWidth(content)
	d := cfg.MinDelay + time.Duration(w)*cfg.PerRune
	if d < cfg.MinDelay {
		d = cfg.MinDelay
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}
