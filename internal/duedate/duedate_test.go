package duedate

import (
	"errors"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// Tuesday
var now = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	p := New()
	tests := []struct {
		text    string
		want    time.Time
		wantErr bool
	}{
		{"tomorrow", time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), false},
		{"in 3 days", time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), false},
		{"  ", time.Time{}, true},
		{"someday maybe", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			due, err := p.Parse(tt.text, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrNoDate) {
					t.Errorf("Parse() error = %v, want ErrNoDate", err)
				}
				return
			}
			if !sameDay(due.Date, tt.want) {
				t.Errorf("Parse() date = %v, want day of %v", due.Date, tt.want)
			}
			if due.String == "" {
				t.Error("Parse() dropped the original text")
			}
		})
	}
}

func TestExtract(t *testing.T) {
	p := New()
	tests := []struct {
		content  string
		wantRest string
		wantDay  int // 0 = no due date
	}{
		{"Pay rent tomorrow", "Pay rent", 11},
		{"Call mom in 2 days please", "Call mom please", 12},
		{"Buy milk", "Buy milk", 0},
		{"tomorrow", "tomorrow", 0},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			rest, due := p.Extract(tt.content, now)
			if rest != tt.wantRest {
				t.Errorf("Extract() rest = %q, want %q", rest, tt.wantRest)
			}
			switch {
			case tt.wantDay == 0 && due != nil:
				t.Errorf("Extract() due = %+v, want none", due)
			case tt.wantDay != 0 && (due == nil || due.Date.Day() != tt.wantDay):
				t.Errorf("Extract() due = %+v, want day %d", due, tt.wantDay)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	day := func(offset int) *types.Due {
		return &types.Due{Date: now.AddDate(0, 0, offset)}
	}
	tests := []struct {
		name string
		due  *types.Due
		want string
	}{
		{"none", nil, ""},
		{"today", day(0), "today"},
		{"tomorrow", day(1), "tomorrow"},
		{"yesterday", day(-1), "yesterday"},
		{"this week", day(3), "Friday"},
		{"recent past", day(-4), "4 days ago"},
		{"later this year", day(30), "Apr 9"},
		{"next year", &types.Due{Date: time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC)}, "Jan 5 2027"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.due, now); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
