package brief

import "strings"

// DefaultMaxTokens is the brief budget when the caller does not set
// one.
const DefaultMaxTokens = 2000

const truncationNotice = "[brief truncated to fit the token budget]"

// EstimateTokens approximates the token count of text as one token
// per four characters, rounded up.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Truncate enforces the token budget by removing body lines from the
// end, one at a time, never removing a header line. When anything was
// removed, a one-line notice is appended. Headers survive even if
// their sections end up empty.
func Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if EstimateTokens(text) <= maxTokens {
		return text, false
	}

	lines := strings.Split(text, "\n")
	for {
		idx := lastBodyLine(lines)
		if idx < 0 {
			break
		}
		lines = append(lines[:idx], lines[idx+1:]...)
		candidate := strings.Join(lines, "\n") + "\n" + truncationNotice
		if EstimateTokens(candidate) <= maxTokens {
			return candidate, true
		}
	}
	// Only headers remain.
	return strings.Join(lines, "\n") + "\n" + truncationNotice, true
}

// lastBodyLine returns the index of the last non-header line, or -1.
func lastBodyLine(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(lines[i], "#") && strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}
