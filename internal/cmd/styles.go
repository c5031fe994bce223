package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/Iron-Ham/fleetwatch/internal/registry"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

var (
	colorOK     = lipgloss.Color("#10B981")
	colorWarn   = lipgloss.Color("#F59E0B")
	colorError  = lipgloss.Color("#F87171")
	colorStuck  = lipgloss.Color("#FB923C")
	colorMuted  = lipgloss.Color("#9CA3AF")
	colorAccent = lipgloss.Color("#A78BFA")
)

// palette renders CLI output. A plain palette emits no escape codes.
type palette struct {
	plain bool

	header lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	stuck  lipgloss.Style
	muted  lipgloss.Style
}

func newPalette(plain bool) palette {
	return palette{
		plain:  plain,
		header: lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		ok:     lipgloss.NewStyle().Foreground(colorOK),
		warn:   lipgloss.NewStyle().Foreground(colorWarn),
		err:    lipgloss.NewStyle().Foreground(colorError).Bold(true),
		stuck:  lipgloss.NewStyle().Foreground(colorStuck).Bold(true),
		muted:  lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// paletteFor colors output only when w is a terminal.
func paletteFor(w io.Writer) palette {
	f, ok := w.(*os.File)
	return newPalette(!ok || !term.IsTerminal(int(f.Fd())))
}

func (p palette) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p palette) confidence(c stuck.Confidence) string {
	switch c {
	case stuck.ConfidenceHigh:
		return p.render(p.err, string(c))
	case stuck.ConfidenceMedium:
		return p.render(p.stuck, string(c))
	default:
		return p.render(p.warn, string(c))
	}
}

func (p palette) status(s registry.Status, missing bool) string {
	if missing {
		return p.render(p.err, "missing")
	}
	switch s {
	case registry.StatusError:
		return p.render(p.err, string(s))
	case registry.StatusBusy:
		return p.render(p.ok, string(s))
	case registry.StatusStopped:
		return p.render(p.muted, string(s))
	case "":
		return p.render(p.muted, "-")
	default:
		return string(s)
	}
}

// pad right-pads s to width visible cells, ignoring escape codes.
func pad(s string, width int) string {
	if n := ansi.StringWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
