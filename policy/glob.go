package policy

import "strings"

// Match reports whether value matches pattern. A `*` in the pattern matches
// zero or more characters, including across `:` segment boundaries; every
// other character matches itself. Matching is case-sensitive.
func Match(pattern, value string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	parts := strings.Split(pattern, "*")

	// Leading literal anchors at the start, trailing literal at the end.
	first, last := parts[0], parts[len(parts)-1]
	if !strings.HasPrefix(value, first) {
		return false
	}
	rest := value[len(first):]

	// Interior literals must appear in order within what remains.
	for _, lit := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, lit)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(lit):]
	}

	return strings.HasSuffix(rest, last)
}
