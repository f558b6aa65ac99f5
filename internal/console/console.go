// Package console renders the conversation of the running call on a line
// based terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	realtime "github.com/andje/ivr-realtime/core"
)

const (
	defaultWidth = 80

	colorUser      = "#5FAFFF"
	colorAssistant = "#87D787"
	colorPartial   = "#808080"
	colorState     = "#AF87FF"
	colorError     = "#FF5F5F"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorUser))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAssistant))
	partialStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color(colorPartial))
	stateStyle     = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color(colorState))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError))
)

type Option func(*Renderer)

// WithWidth sets the wrap width of final transcripts.
func WithWidth(width int) Option {
	return func(r *Renderer) {
		if width > 0 {
			r.width = width
		}
	}
}

// WithStates enables rendering of session state changes.
func WithStates(enabled bool) Option {
	return func(r *Renderer) {
		r.showStates = enabled
	}
}

// Renderer prints transcripts and session events. Partial transcripts are
// redrawn in place on a single line until the final text arrives.
type Renderer struct {
	out        io.Writer
	width      int
	showStates bool

	mu          sync.Mutex
	partial     strings.Builder
	partialLine bool
}

func New(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{out: out, width: defaultWidth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) Transcript(t realtime.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !t.Final {
		r.partial.WriteString(t.Text)
		line := partialStyle.Render("[Parcial] ") + lastLine(r.partial.String(), r.width-10)
		fmt.Fprint(r.out, "\r\033[K"+line)
		r.partialLine = true
		return
	}

	r.clearPartial()
	label := assistantStyle.Render("Asistente:")
	if t.Speaker == realtime.SpeakerUser {
		label = userStyle.Render("Usuario:")
	}
	indent := lipgloss.Width(label) + 1
	text := wordwrap.String(strings.TrimSpace(t.Text), r.width-indent)
	text = strings.ReplaceAll(text, "\n", "\n"+strings.Repeat(" ", indent))
	fmt.Fprintf(r.out, "%s %s\n", label, text)
}

func (r *Renderer) StateChange(callID string, state realtime.State) {
	if !r.showStates {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearPartial()
	fmt.Fprintln(r.out, stateStyle.Render(fmt.Sprintf("[%s] %s", shortID(callID), state)))
}

func (r *Renderer) SessionEnd(summary realtime.SessionSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearPartial()
	switch {
	case summary.Graceful:
		fmt.Fprintln(r.out, stateStyle.Render(fmt.Sprintf("[%s] llamada finalizada", shortID(summary.CallID))))
	case !summary.Established:
		fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf("[%s] no se pudo conectar: %v", shortID(summary.CallID), summary.Err)))
	default:
		fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf("[%s] conexión perdida, reconectando: %v", shortID(summary.CallID), summary.Err)))
	}
}

func (r *Renderer) clearPartial() {
	r.partial.Reset()
	if r.partialLine {
		fmt.Fprint(r.out, "\r\033[K")
		r.partialLine = false
	}
}

// lastLine keeps the tail of a growing partial transcript so it fits on
// one terminal line.
func lastLine(text string, width int) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if width <= 0 || lipgloss.Width(text) <= width {
		return text
	}
	runes := []rune(text)
	if len(runes) > width-1 {
		runes = runes[len(runes)-width+1:]
	}
	return truncate.String("…"+string(runes), uint(width))
}

func shortID(callID string) string {
	if len(callID) > 13 {
		return callID[:13]
	}
	return callID
}
