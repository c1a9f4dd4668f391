// Package validate normalises and checks untrusted values that flow into
// outbound channels: guest e-mail addresses, configured service endpoints and
// free text returned by payment gateways.
package validate

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Shared validation errors.
var (
	ErrEmpty          = errors.New("value is empty")
	ErrStringTooLong  = errors.New("value is too long")
	ErrInvalidEmail   = errors.New("invalid email format")
	ErrInvalidURL     = errors.New("invalid URL format")
	ErrDisallowedHost = errors.New("URL host not allowed")
)

// MaxReasonLength bounds gateway failure messages stored on payments.
const MaxReasonLength = 500

// Text collapses runs of whitespace, control characters and invalid UTF-8
// into single spaces, trims the result and truncates it to maxRunes runes.
// maxRunes <= 0 means no limit.
func Text(s string, maxRunes int) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError
	})
	out := strings.Join(fields, " ")
	if maxRunes > 0 && utf8.RuneCountInString(out) > maxRunes {
		out = strings.TrimSpace(string([]rune(out)[:maxRunes]))
	}
	return out
}

// Reason sanitises a gateway supplied failure message, falling back to
// fallback when nothing printable remains.
func Reason(s, fallback string) string {
	if t := Text(s, MaxReasonLength); t != "" {
		return t
	}
	return fallback
}
