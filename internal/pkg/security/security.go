// Package security provides input validation and log sanitization for data
// received from remotes.
package security

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Key limits.
const (
	MaxKeyLength    = 32
	MaxActionLength = 64
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      interface{}
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// ValidateKey checks that a trigger key is short, valid UTF-8 and free of
// whitespace and control characters.
func ValidateKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "key", Constraint: "required"}
	}
	if !utf8.ValidString(key) {
		return &ValidationError{Field: "key", Constraint: "must be valid UTF-8"}
	}
	if n := utf8.RuneCountInString(key); n > MaxKeyLength {
		return &ValidationError{
			Field:      "key",
			Value:      n,
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxKeyLength),
		}
	}
	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return &ValidationError{Field: "key", Value: SanitizeForLog(key), Constraint: "must not contain whitespace or control characters"}
		}
	}
	return nil
}

// ValidateAction checks the optional free-text action label.
func ValidateAction(action string) error {
	if !utf8.ValidString(action) {
		return &ValidationError{Field: "action", Constraint: "must be valid UTF-8"}
	}
	if n := utf8.RuneCountInString(action); n > MaxActionLength {
		return &ValidationError{
			Field:      "action",
			Value:      n,
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxActionLength),
		}
	}
	return nil
}

// SanitizeForLog escapes newlines, drops other control characters and
// truncates s so untrusted input cannot forge log lines.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, 200)
}

// SanitizeForLogWithLength sanitizes a string for logging with a custom max length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString("\\n")
			count += 2
		case '\r':
			b.WriteString("\\r")
			count += 2
		case '\t':
			b.WriteString("\\t")
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"proxy-authorization": true,
	"sec-websocket-key":   true,
}

// MaskSensitiveHeaders returns a copy of headers with credential values
// replaced, for debug logging of handshakes.
func MaskSensitiveHeaders(headers http.Header) http.Header {
	if headers == nil {
		return nil
	}
	masked := make(http.Header, len(headers))
	for name, values := range headers {
		if sensitiveHeaders[strings.ToLower(name)] || strings.Contains(strings.ToLower(name), "token") {
			masked[name] = []string{"[REDACTED]"}
			continue
		}
		masked[name] = append([]string(nil), values...)
	}
	return masked
}
