package validate

import (
	"regexp"
	"strings"
)

// emailPattern covers the addresses guests give at booking time. The SMTP
// server is the final authority.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email validates a recipient address and returns it trimmed and lowercased.
// Addresses containing CR or LF never match, so the result is safe to place
// in a message header.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmpty
	}

	// RFC 5321 limits
	if len(email) > 254 {
		return "", ErrStringTooLong
	}
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	local, domain, _ := strings.Cut(email, "@")
	if len(local) > 64 || len(domain) > 255 {
		return "", ErrStringTooLong
	}
	if strings.Contains(domain, "..") || strings.HasPrefix(domain, ".") {
		return "", ErrInvalidEmail
	}

	return email, nil
}
