package types

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Field limits.
const (
	MaxContentLength     = 500
	MaxDescriptionLength = 16384
	MaxNameLength        = 120
)

// ValidationError rejects a mutation before any state changes. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// validateText rejects empty (when required), oversized, and unsafe text.
// Unsafe means control characters other than newline and tab, or invalid UTF-8.
func validateText(field, s string, max int, required bool) error {
	if required && strings.TrimSpace(s) == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if !utf8.ValidString(s) {
		return &ValidationError{Field: field, Reason: "is not valid UTF-8"}
	}
	if n := utf8.RuneCountInString(s); n > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be %d characters or less (got %d)", max, n)}
	}
	for _, r := range s {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("contains control character %U", r)}
		}
	}
	return nil
}
