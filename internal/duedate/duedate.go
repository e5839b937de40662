// Package duedate turns phrases such as "tomorrow 5pm" or "next friday" into
// task due dates, and formats due dates relative to today.
package duedate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// ErrNoDate is returned when the text contains no recognizable date.
var ErrNoDate = errors.New("no date found")

// Parser recognizes English date phrases.
type Parser struct {
	w *when.Parser
}

// New returns a Parser with the English and common rule sets.
func New() *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w}
}

// Parse interprets the whole of text relative to now.
func (p *Parser) Parse(text string, now time.Time) (*types.Due, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoDate
	}
	r, err := p.w.Parse(text, now)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%q: %w", text, ErrNoDate)
	}
	return &types.Due{Date: r.Time, String: text}, nil
}

// Extract finds a date phrase inside quick-add content and returns the
// content with the phrase removed. due is nil when content holds no date.
//
//	Extract("Pay rent next monday", now) // "Pay rent", next Monday
func (p *Parser) Extract(content string, now time.Time) (string, *types.Due) {
	r, err := p.w.Parse(content, now)
	if err != nil || r == nil {
		return content, nil
	}
	rest := content[:r.Index] + content[r.Index+len(r.Text):]
	rest = strings.Join(strings.Fields(rest), " ")
	if rest == "" {
		// The whole input was a date; keep it as the content.
		return content, nil
	}
	return rest, &types.Due{Date: r.Time, String: strings.TrimSpace(r.Text)}
}

// Format describes d relative to now: "today", "tomorrow", "yesterday", a
// weekday within the coming week, "3 days ago" for recent past dates, or a
// calendar date.
func Format(d *types.Due, now time.Time) string {
	if d == nil || d.Date.IsZero() {
		return ""
	}
	days := daysBetween(now, d.Date)
	switch {
	case days == 0:
		return "today"
	case days == 1:
		return "tomorrow"
	case days == -1:
		return "yesterday"
	case days > 1 && days < 7:
		return d.Date.Weekday().String()
	case days < -1 && days > -7:
		return fmt.Sprintf("%d days ago", -days)
	case d.Date.Year() == now.Year():
		return d.Date.Format("Jan 2")
	default:
		return d.Date.Format("Jan 2 2006")
	}
}

// daysBetween counts calendar days from a to b in a's location.
func daysBetween(a, b time.Time) int {
	b = b.In(a.Location())
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
