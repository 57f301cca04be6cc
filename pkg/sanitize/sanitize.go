// Package sanitize rewrites tool results before they re-enter model
// context. Multi-megabyte base64 payloads and data URIs waste the context
// window and risk provider-side request-size rejection, so they are
// replaced with compact placeholders.
package sanitize

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

const (
	// DataURIMarker replaces any data-URI valued field.
	DataURIMarker = "[data uri omitted]"

	// minBase64Len is the threshold below which a base64-looking string is
	// left alone. Short tokens, ids and hashes routinely look like base64.
	minBase64Len = 512
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/\r\n]+={0,2}$`)

// Payload walks a decoded tool result and returns a copy with binary
// content replaced by placeholders. Plain text fields are never altered.
// The function is idempotent: placeholders are short and never match the
// binary heuristics.
func Payload(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return sanitizeString(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Payload(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Payload(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeString(s string) string {
	if isDataURI(s) {
		return DataURIMarker
	}
	if isBase64Payload(s) {
		return binaryPlaceholder(s)
	}
	return s
}

// binaryPlaceholder keeps only the decoded byte length of the original.
func binaryPlaceholder(s string) string {
	stripped := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)

	n := base64.StdEncoding.DecodedLen(len(stripped))
	padding := strings.Count(stripped, "=")
	n -= padding

	return fmt.Sprintf("[binary data: %d bytes]", n)
}

func isDataURI(s string) bool {
	if !strings.HasPrefix(s, "data:") {
		return false
	}
	comma := strings.IndexByte(s, ',')
	return comma > 5
}

func isBase64Payload(s string) bool {
	if len(s) < minBase64Len {
		return false
	}
	return base64Pattern.MatchString(s)
}
