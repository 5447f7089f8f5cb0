package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/lingo-live/pkg/core/transcript"
	"github.com/vango-go/lingo-live/pkg/live/session"
)

const meterWidth = 10

// console renders the conversation on a raw-mode terminal. The bottom line
// is redrawn in place while its transcript entry is still growing and is
// committed once a different entry arrives.
type console struct {
	mu      sync.Mutex
	w       io.Writer
	now     func() time.Time
	started time.Time
	level   float64
	muted   bool
	lastID  string
	line    string
}

func newConsole(w io.Writer, now func() time.Time) *console {
	if now == nil {
		now = time.Now
	}
	return &console{w: w, now: now, line: "connecting..."}
}

func (c *console) message(ev transcript.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastID != "" && c.lastID != ev.ID {
		c.render()
		io.WriteString(c.w, "\r\n")
	}
	c.lastID = ev.ID
	c.line = speaker(ev.Role) + ": " + flatten(ev.Text)
	c.render()
}

func (c *console) setLevel(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
	c.render()
}

func (c *console) setMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	c.render()
}

func (c *console) state(s session.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s {
	case session.StateConnected:
		c.started = c.now()
		if c.lastID == "" {
			c.line = "connected, say hello"
		}
	case session.StateClosed:
		c.render()
		io.WriteString(c.w, "\r\nsession ended\r\n")
		return
	}
	c.render()
}

func (c *console) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render()
}

// render redraws the live line. Callers hold mu.
func (c *console) render() {
	fmt.Fprintf(c.w, "\r\x1b[2K[%s] %s %s", c.elapsed(), c.meter(), c.line)
}

func (c *console) elapsed() string {
	if c.started.IsZero() {
		return "--:--"
	}
	return formatElapsed(c.now().Sub(c.started))
}

func (c *console) meter() string {
	if c.muted {
		return "[" + padRight("muted", meterWidth) + "]"
	}
	// Speech RMS rarely exceeds 0.25.
	n := int(c.level * 4 * meterWidth)
	n = max(0, min(n, meterWidth))
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", meterWidth-n) + "]"
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func speaker(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return "you"
	case transcript.RoleAssistant:
		return "tutor"
	default:
		return "system"
	}
}

func flatten(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
