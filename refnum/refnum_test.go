package refnum

import (
	"regexp"
	"testing"
	"time"
)

func TestUUIDGenerator(t *testing.T) {
	g := New()
	g.now = func() time.Time { return time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC) }

	tests := []struct {
		ref     string
		pattern string
	}{
		{g.MessageRef(), `^MSG-20260825-[0-9A-F]{8}$`},
		{g.GuaranteeRef(), `^GTEE-20260825-[0-9A-F]{8}$`},
		{g.AmendmentRef(), `^AMND-20260825-[0-9A-F]{8}$`},
	}
	for _, tt := range tests {
		if !regexp.MustCompile(tt.pattern).MatchString(tt.ref) {
			t.Errorf("reference %q does not match %s", tt.ref, tt.pattern)
		}
	}
}

func TestUUIDGenerator_Unique(t *testing.T) {
	g := New()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ref := g.MessageRef()
		if seen[ref] {
			t.Fatalf("duplicate reference %q", ref)
		}
		seen[ref] = true
	}
}
