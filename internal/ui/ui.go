// Package ui renders tasks and save status for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mschirtzinger/tasksync/internal/duedate"
	"github.com/mschirtzinger/tasksync/internal/state/pending"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Priority colors, urgent first.
var priorityColors = map[int]lipgloss.Color{
	4: lipgloss.Color("196"),
	3: lipgloss.Color("208"),
	2: lipgloss.Color("33"),
}

// Printer writes styled output to one writer.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer

	title    lipgloss.Style
	dim      lipgloss.Style
	done     lipgloss.Style
	overdue  lipgloss.Style
	due      lipgloss.Style
	label    lipgloss.Style
	pinned   lipgloss.Style
	errStyle lipgloss.Style
	ok       lipgloss.Style
}

// New returns a Printer for w. Colors follow the terminal's capabilities
// unless plain is set, which disables styling.
func New(w io.Writer, plain bool) *Printer {
	r := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	if plain {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{
		w:        w,
		renderer: r,
		title:    r.NewStyle().Bold(true).Underline(true),
		dim:      r.NewStyle().Foreground(lipgloss.Color("244")),
		done:     r.NewStyle().Foreground(lipgloss.Color("244")).Strikethrough(true),
		overdue:  r.NewStyle().Foreground(lipgloss.Color("196")),
		due:      r.NewStyle().Foreground(lipgloss.Color("71")),
		label:    r.NewStyle().Foreground(lipgloss.Color("135")),
		pinned:   r.NewStyle().Foreground(lipgloss.Color("220")),
		errStyle: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		ok:       r.NewStyle().Foreground(lipgloss.Color("71")),
	}
}

// Tasks prints a titled task list.
func (p *Printer) Tasks(title string, tasks []*types.Task, now time.Time) {
	fmt.Fprintln(p.w, p.title.Render(title))
	if len(tasks) == 0 {
		fmt.Fprintln(p.w, p.dim.Render("  (no tasks)"))
		return
	}
	for _, t := range tasks {
		fmt.Fprintln(p.w, p.TaskLine(t, now))
	}
}

// TaskLine renders one task as a single line.
func (p *Printer) TaskLine(t *types.Task, now time.Time) string {
	box := "[ ]"
	if t.Checked {
		box = "[x]"
	}
	if c, ok := priorityColors[t.Priority]; ok && !t.Checked {
		box = p.renderer.NewStyle().Foreground(c).Bold(true).Render(box)
	}

	content := t.Content
	if t.Checked {
		content = p.done.Render(content)
	}

	parts := []string{"  " + box, content}
	if t.Pinned {
		parts = append(parts, p.pinned.Render("*"))
	}
	if when := duedate.Format(t.Due, now); when != "" {
		style := p.due
		if t.DueBefore(now) && !t.Checked {
			style = p.overdue
		}
		parts = append(parts, style.Render(when))
	}
	for _, l := range t.Labels {
		parts = append(parts, p.label.Render("@"+l))
	}
	parts = append(parts, p.dim.Render(t.ID))
	return strings.Join(parts, " ")
}

// Status prints the save status line, listing unfinished operations.
func (p *Printer) Status(status pending.SaveStatus, descriptions []string, lastErr error) {
	switch status {
	case pending.StatusError:
		msg := "save failed"
		if lastErr != nil {
			msg += ": " + lastErr.Error()
		}
		fmt.Fprintln(p.w, p.errStyle.Render(msg))
	case pending.StatusSaving:
		fmt.Fprintln(p.w, p.dim.Render(fmt.Sprintf("saving %d change(s)...", len(descriptions))))
		for _, d := range descriptions {
			fmt.Fprintln(p.w, p.dim.Render("  - "+d))
		}
	default:
		fmt.Fprintln(p.w, p.ok.Render("all changes saved"))
	}
}

// Error prints a failure message.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.w, p.errStyle.Render(msg))
}

// Success prints a confirmation message.
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.ok.Render(msg))
}
