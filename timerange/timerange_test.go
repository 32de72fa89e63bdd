package timerange

import "testing"

func TestParse(t *testing.T) {
	span, err := Parse("09:00-09:45")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if span.Start != 540 || span.End != 585 {
		t.Errorf("expected 540-585, got %d-%d", span.Start, span.End)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, s := range []string{"", "09:00", "0900-1000", "aa:bb-cc:dd", "09:00-"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"09:00-09:45", "09:45-10:30", false}, // abutting, half-open
		{"09:00-10:00", "09:30-09:45", true},  // containment
		{"09:00-09:45", "09:00-09:45", true},  // identical
		{"07:30-08:15", "11:00-11:45", false}, // disjoint
		{"09:30-10:15", "09:00-09:45", true},  // partial
	}

	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		// Overlap is symmetric
		if got := Overlaps(tt.b, tt.a); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", tt.b, tt.a, got, tt.want)
		}
	}
}
