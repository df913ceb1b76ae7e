package brief

import (
	"strings"
	"testing"
)

func TestEstimateTokens_CeilingDivision(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 8000), 2000},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestTruncate_UnderBudgetUntouched(t *testing.T) {
	text := "# Header\nbody line"
	got, truncated := Truncate(text, 100)
	if truncated {
		t.Error("expected no truncation under budget")
	}
	if got != text {
		t.Errorf("expected text unchanged, got %q", got)
	}
}

func TestTruncate_PreservesHeaders(t *testing.T) {
	var b strings.Builder
	b.WriteString("# First\n")
	for i := 0; i < 50; i++ {
		b.WriteString("some body content line that uses tokens\n")
	}
	b.WriteString("# Second\n")
	for i := 0; i < 50; i++ {
		b.WriteString("more body content in the second section\n")
	}
	text := strings.TrimRight(b.String(), "\n")

	got, truncated := Truncate(text, 50)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if EstimateTokens(got) > 50 {
		t.Errorf("expected at most 50 tokens, got %d", EstimateTokens(got))
	}
	if !strings.Contains(got, "# First") || !strings.Contains(got, "# Second") {
		t.Error("expected both headers to survive truncation")
	}
	if !strings.Contains(got, truncationNotice) {
		t.Error("expected truncation notice")
	}
}

func TestTruncate_TokenBudgetOfOne(t *testing.T) {
	text := "# Only Header\nbody one\nbody two"
	got, truncated := Truncate(text, 1)
	if !truncated {
		t.Fatal("expected truncation")
	}
	for _, line := range strings.Split(got, "\n") {
		if line == truncationNotice || strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			t.Errorf("expected only headers and the notice, found body line %q", line)
		}
	}
}
