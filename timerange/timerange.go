// Package timerange converts "HH:MM-HH:MM" range strings into comparable
// minute intervals and tests them for overlap.
package timerange

import (
	"fmt"
	"strconv"
	"strings"
)

// Span is a half-open interval of minutes since midnight.
type Span struct {
	Start int
	End   int
}

// Parse converts a "HH:MM-HH:MM" string into a Span.
func Parse(s string) (Span, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Span{}, fmt.Errorf("invalid time range %q", s)
	}

	start, err := toMinutes(parts[0])
	if err != nil {
		return Span{}, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	end, err := toMinutes(parts[1])
	if err != nil {
		return Span{}, fmt.Errorf("invalid time range %q: %w", s, err)
	}

	return Span{Start: start, End: end}, nil
}

func toMinutes(hhmm string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid hours %q", hh)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid minutes %q", mm)
	}
	return hours*60 + minutes, nil
}

// Overlaps reports whether two range strings intersect as half-open
// intervals: touching endpoints do not count as overlap. Passing a
// malformed string is a caller contract violation; the result for such
// input is unspecified.
func Overlaps(a, b string) bool {
	sa, err := Parse(a)
	if err != nil {
		return false
	}
	sb, err := Parse(b)
	if err != nil {
		return false
	}
	return sa.Start < sb.End && sb.Start < sa.End
}
