package secret

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// keyPattern matches anything shaped like a raw key: an alphanumeric tag,
// an underscore and a hex body of at least 64 characters. It is not anchored
// to word boundaries, so keys glued to other text still match.
var keyPattern = regexp.MustCompile(`([a-z0-9]+_[0-9a-f]{5})[0-9a-f]{59,}`)

// Redact replaces every raw key in s with its first few characters followed
// by a redaction marker.
func Redact(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	return keyPattern.ReplaceAllString(s, "${1}…[REDACTED]")
}

// RedactAttr is a slog ReplaceAttr hook that redacts raw keys from string
// attribute values, error messages and the printed form of any other value.
// A non-string value containing a key is replaced by its redacted text.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if v := a.Value.String(); keyPattern.MatchString(v) {
			a.Value = slog.StringValue(Redact(v))
		}
	case slog.KindAny:
		var text string
		switch v := a.Value.Any().(type) {
		case error:
			text = v.Error()
		case nil:
			return a
		default:
			text = fmt.Sprint(v)
		}
		if keyPattern.MatchString(text) {
			a.Value = slog.StringValue(Redact(text))
		}
	}
	return a
}
