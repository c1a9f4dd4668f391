package validate

import (
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// URLConstraints restricts which endpoints a URL may point at.
type URLConstraints struct {
	AllowedSchemes []string // empty allows any scheme
	BlockPrivate   bool     // reject localhost and private or link-local IP literals
	MaxLength      int      // 0 = no limit
}

// PublicEndpoint is used for third-party APIs in production: HTTPS only and
// never an internal address.
var PublicEndpoint = URLConstraints{
	AllowedSchemes: []string{"https"},
	BlockPrivate:   true,
	MaxLength:      2048,
}

// ServiceEndpoint accepts any HTTP(S) endpoint, including in-cluster ones such
// as a local S3-compatible store.
var ServiceEndpoint = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	MaxLength:      2048,
}

// URL validates urlStr against c and returns it trimmed.
// Host names are not resolved; only IP literals and localhost are checked
// for BlockPrivate.
func URL(urlStr string, c URLConstraints) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", ErrEmpty
	}
	if c.MaxLength > 0 && len(urlStr) > c.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, c.MaxLength)
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if len(c.AllowedSchemes) > 0 && !slices.Contains(c.AllowedSchemes, u.Scheme) {
		return "", fmt.Errorf("%w: scheme %q, allowed: %v", ErrInvalidURL, u.Scheme, c.AllowedSchemes)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if c.BlockPrivate && isInternalHost(host) {
		return "", fmt.Errorf("%w: %s", ErrDisallowedHost, host)
	}

	return urlStr, nil
}

func isInternalHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
