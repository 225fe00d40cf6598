package logger

import (
	"strings"
	"unicode/utf8"
)

// maxTextField caps user-posted text in log entries. Full message
// bodies live in the deletion stream, not in logs.
const maxTextField = 256

// sanitizeValue trims user-posted message text so a single spam wall
// of text does not blow up the log line.
func sanitizeValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "text") || strings.Contains(k, "message") {
		return TruncateText(val)
	}
	return val
}

// TruncateText caps a string at maxTextField bytes, marking the cut.
// The cut lands on a rune boundary so the output stays valid UTF-8.
func TruncateText(s string) string {
	if len(s) <= maxTextField {
		return s
	}
	cut := maxTextField
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
