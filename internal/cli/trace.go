package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/calvinalkan/handleprobe/internal/probe"
)

var (
	banner    = strings.Repeat("-", 64)
	separator = strings.Repeat("-", 32)
)

// invalidHandle is what a refused open prints instead of a handle value.
const invalidHandle = "INVALID_HANDLE_VALUE"

// tracePrinter writes the console trace of a run. It implements
// [probe.Observer] and [probe.OpenObserver].
type tracePrinter struct {
	w      io.Writer
	styles map[probe.Status]lipgloss.Style

	// firstPrinted is set while the h1 line of the current conflict pair
	// is already on screen.
	firstPrinted bool
}

// newTracePrinter returns a printer for w. Status tags are colored only
// when w is a terminal.
func newTracePrinter(w io.Writer) *tracePrinter {
	r := lipgloss.NewRenderer(w)
	tag := r.NewStyle().Bold(true)

	return &tracePrinter{
		w: w,
		styles: map[probe.Status]lipgloss.Style{
			probe.StatusPass:    tag.Foreground(lipgloss.Color("2")),
			probe.StatusSkip:    tag.Foreground(lipgloss.Color("241")),
			probe.StatusAnomaly: tag.Foreground(lipgloss.Color("3")),
			probe.StatusAbort:   tag.Foreground(lipgloss.Color("208")),
			probe.StatusFail:    tag.Foreground(lipgloss.Color("1")),
			probe.StatusFatal:   tag.Foreground(lipgloss.Color("9")).Underline(true),
		},
	}
}

func (p *tracePrinter) ScenarioStarted(name string) {
	p.println(banner)
	p.println(name)
	p.println(banner)
}

// FirstOpenAttempted prints h1 before the second open is attempted.
func (p *tracePrinter) FirstOpenAttempted(it probe.Iteration) {
	if it.Conflict == nil {
		return
	}

	p.printAttempt("h1", it.Conflict.First)
	p.firstPrinted = true
}

func (p *tracePrinter) IterationFinished(it probe.Iteration) {
	if c := it.Conflict; c != nil {
		if !p.firstPrinted {
			p.printAttempt("h1", c.First)
		}

		if c.First.Opened {
			p.printAttempt("h2", c.Second)
		}
	} else {
		p.println("- " + it.Label + ":")
	}

	if it.IdentityBefore != nil {
		p.println("  identity before: " + it.IdentityBefore.String())
	}

	if it.IdentityAfter != nil {
		p.println("  identity after:  " + it.IdentityAfter.String())
	}

	for _, c := range it.Checks {
		p.printCheck(c.Status, c.Step, c.Message)
	}

	p.println(separator)

	p.firstPrinted = false
}

func (p *tracePrinter) ScenarioFinished(sr probe.ScenarioReport) {
	if sr.Fatal == "" {
		return
	}

	p.printCheck(probe.StatusFatal, sr.Name, sr.Fatal)

	if len(sr.Skipped) > 0 {
		p.println("  skipped: " + strings.Join(sr.Skipped, ", "))
	}
}

// printSummary ends the trace.
func (p *tracePrinter) printSummary(r *probe.Report) {
	p.println(banner)
	p.println(fmt.Sprintf("run %s on %s (%s share model)", r.RunID, r.Backend, r.ShareModel))
	p.println(r.Summary.String())
}

func (p *tracePrinter) printAttempt(name string, a probe.OpenAttempt) {
	p.println(fmt.Sprintf("%s: access=%s; share=%s;", name, a.Access, a.Share))

	if a.Opened {
		p.println(fmt.Sprintf("%s = %#x", name, a.Handle))
	} else {
		p.println(fmt.Sprintf("%s = %s", name, invalidHandle))
	}
}

func (p *tracePrinter) printCheck(s probe.Status, step, msg string) {
	tag := "[" + strings.ToUpper(string(s)) + "]"

	if style, ok := p.styles[s]; ok {
		tag = style.Render(tag)
	}

	line := "  " + tag + " " + step
	if msg != "" {
		line += ": " + msg
	}

	p.println(line)
}

func (p *tracePrinter) println(s string) {
	_, _ = fmt.Fprintln(p.w, s)
}
