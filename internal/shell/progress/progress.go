// Package progress renders lifecycle events for people and for logs.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/artpar/stackctl/internal/core/lifecycle"
)

// =============================================================================
// Styles
// =============================================================================

var (
	colorOK    = lipgloss.AdaptiveColor{Light: "#2f9e44", Dark: "#aad94c"}
	colorNoop  = lipgloss.AdaptiveColor{Light: "#868e96", Dark: "#6c7680"}
	colorError = lipgloss.AdaptiveColor{Light: "#e03131", Dark: "#f07178"}
	colorBusy  = lipgloss.AdaptiveColor{Light: "#1971c2", Dark: "#59c2ff"}
)

type styles struct {
	ok, noop, err, busy, name, dim lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, color bool) styles {
	if !color {
		plain := r.NewStyle()
		return styles{ok: plain, noop: plain, err: plain, busy: plain, name: plain, dim: plain}
	}
	return styles{
		ok:   r.NewStyle().Foreground(colorOK),
		noop: r.NewStyle().Foreground(colorNoop),
		err:  r.NewStyle().Foreground(colorError).Bold(true),
		busy: r.NewStyle().Foreground(colorBusy),
		name: r.NewStyle().Bold(true),
		dim:  r.NewStyle().Foreground(colorNoop),
	}
}

// =============================================================================
// Terminal Reporter
// =============================================================================

// Terminal writes one line per finished instance operation:
//
//	✔ shop_web_1  Started  0.4s
//
// Started lines are only written when Verbose is set.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	styles  styles
	verbose bool
}

// ColorMode selects when progress lines are styled.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto" // styled only when w is a terminal
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode accepts auto, always or never. Empty means auto.
func ParseColorMode(s string) (ColorMode, error) {
	switch mode := ColorMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return ColorAuto, nil
	case ColorAuto, ColorAlways, ColorNever:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (valid: auto, always, never)", s)
	}
}

// NewTerminal returns a Terminal writing to w.
func NewTerminal(w io.Writer, mode ColorMode, verbose bool) *Terminal {
	r := lipgloss.NewRenderer(w)
	if mode == ColorAlways {
		r.SetColorProfile(termenv.ANSI256)
	}
	return &Terminal{
		w:       w,
		styles:  newStyles(r, mode != ColorNever),
		verbose: verbose,
	}
}

// Started implements lifecycle.Reporter.
func (t *Terminal) Started(ev lifecycle.Event) {
	if !t.verbose {
		return
	}
	t.line(t.styles.busy.Render("•"), ev.Instance, t.styles.busy.Render(ev.Message), "")
}

// Finished implements lifecycle.Reporter.
func (t *Terminal) Finished(ev lifecycle.Event) {
	switch ev.Status {
	case lifecycle.StatusOK:
		t.line(t.styles.ok.Render("✔"), ev.Instance, t.styles.ok.Render(ev.Message), formatDuration(ev.Duration))
	case lifecycle.StatusNoop:
		t.line(t.styles.noop.Render("-"), ev.Instance, t.styles.noop.Render(ev.Message), "")
	case lifecycle.StatusError:
		t.line(t.styles.err.Render("✘"), ev.Instance, t.styles.err.Render("Error"), ev.Message)
	}
}

func (t *Terminal) line(icon, instance, message, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if detail != "" {
		detail = "  " + t.styles.dim.Render(detail)
	}
	fmt.Fprintf(t.w, " %s %s  %s%s\n", icon, t.styles.name.Render(instance), message, detail)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// =============================================================================
// Log Reporter
// =============================================================================

// LogReporter writes lifecycle events to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a LogReporter. A nil logger uses slog.Default().
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Started implements lifecycle.Reporter.
func (r *LogReporter) Started(ev lifecycle.Event) {
	r.logger.Debug("instance operation started",
		"verb", string(ev.Verb),
		"service", ev.Service,
		"instance", ev.Instance,
	)
}

// Finished implements lifecycle.Reporter.
func (r *LogReporter) Finished(ev lifecycle.Event) {
	attrs := []any{
		"verb", string(ev.Verb),
		"service", ev.Service,
		"instance", ev.Instance,
		"status", string(ev.Status),
		"duration", ev.Duration,
	}
	if ev.Status == lifecycle.StatusError {
		r.logger.Error("instance operation failed", append(attrs, "error", ev.Err)...)
		return
	}
	r.logger.Debug("instance operation finished", attrs...)
}

// Multi fans events out to every non-nil reporter.
func Multi(reporters ...lifecycle.Reporter) lifecycle.Reporter {
	var out lifecycle.MultiReporter
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
