package toolset

import "strings"

// SanitizeName normalizes a tool name into the shape completion providers
// accept: every character outside [A-Za-z0-9_-] becomes "_", a name that
// does not start with a letter or underscore gains a "tool_" prefix, an
// empty name becomes "unknown_tool", and the result is lower-cased.
//
// The function is pure and idempotent. Resolution and dispatch both call it
// independently and must agree on the result.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	s := b.String()
	if s == "" {
		return "unknown_tool"
	}

	first := s[0]
	isLetter := (first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')
	if !isLetter && first != '_' {
		s = "tool_" + s
	}

	return strings.ToLower(s)
}
