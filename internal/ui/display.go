package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/haricheung/dietplan/internal/types"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

var eventColor = map[types.EventType]string{
	types.EventCacheHit:         ansiGreen,
	types.EventCacheMiss:        ansiYellow,
	types.EventPlanGenerated:    ansiCyan,
	types.EventPlanUpdated:      ansiCyan,
	types.EventGenerationFailed: ansiRed,
}

var eventIcon = map[types.EventType]string{
	types.EventCacheHit:         "✅",
	types.EventCacheMiss:        "🔎",
	types.EventPlanGenerated:    "🥗",
	types.EventPlanUpdated:      "🔄",
	types.EventGenerationFailed: "❌",
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Display prints one status line per cache event read from a bus tap and
// animates a spinner while a generation is in flight.
type Display struct {
	tap     <-chan types.Message
	out     io.Writer
	color   bool
	mu      sync.Mutex
	pending bool
	spinIdx int
}

// New creates a Display reading from tap and writing to out. color enables
// ANSI escapes and the spinner.
func New(tap <-chan types.Message, out io.Writer, color bool) *Display {
	return &Display{tap: tap, out: out, color: color}
}

// Run renders until ctx is cancelled or the tap is closed. All writes happen
// on this goroutine.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.clearSpinner()
			return

		case msg, ok := <-d.tap:
			if !ok {
				return
			}
			d.clearSpinner()
			fmt.Fprintln(d.out, d.Line(msg))
			d.mu.Lock()
			d.pending = msg.Type == types.EventCacheMiss
			d.mu.Unlock()

		case <-ticker.C:
			d.mu.Lock()
			pending := d.pending
			d.mu.Unlock()
			if !pending || !d.color {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			fmt.Fprintf(d.out, "\r%s%s%s generating plan...", ansiCyan, string(frame), ansiReset)
		}
	}
}

func (d *Display) clearSpinner() {
	if d.color {
		fmt.Fprint(d.out, "\r\033[K")
	}
}

// Line formats msg as a single status line.
//
// Expectations:
//   - CacheHit shows the plan id and name
//   - CacheMiss shows the id the new plan will receive
//   - PlanGenerated shows id, name and latency; a ModelID adds a "model said" note
//   - GenerationFailed shows the mode and error text
//   - Color codes appear only when the display was created with color
func (d *Display) Line(msg types.Message) string {
	ev, _ := msg.Payload.(types.CacheEvent)

	var text string
	switch msg.Type {
	case types.EventCacheHit:
		text = fmt.Sprintf("cache hit: #%d %s", ev.PlanID, clip(ev.PlanName, 50))
	case types.EventCacheMiss:
		text = fmt.Sprintf("cache miss: generating plan #%d", ev.PlanID)
	case types.EventPlanGenerated:
		text = fmt.Sprintf("generated #%d %s in %s", ev.PlanID, clip(ev.PlanName, 50), elapsed(ev.ElapsedMs))
		if ev.ModelID != 0 {
			text += fmt.Sprintf(" (model said #%d)", ev.ModelID)
		}
	case types.EventPlanUpdated:
		text = fmt.Sprintf("updated plan: #%d %s in %s", ev.PlanID, clip(ev.PlanName, 50), elapsed(ev.ElapsedMs))
	case types.EventGenerationFailed:
		text = fmt.Sprintf("%s failed: %s", ev.Mode, clip(ev.Error, 80))
	default:
		text = string(msg.Type)
	}

	icon := eventIcon[msg.Type]
	if icon == "" {
		icon = "•"
	}
	if !d.color {
		return icon + " " + text
	}
	color := eventColor[msg.Type]
	if color == "" {
		color = ansiDim
	}
	return fmt.Sprintf("%s %s%s%s", icon, color, text, ansiReset)
}

func elapsed(ms int64) time.Duration {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond)
}

// clip truncates s to at most n characters, appending "…" if trimmed.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
