package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig is a fixed-window budget: RequestsPerWindow requests per
// WindowDuration for each key.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Validate rejects non-positive budgets and windows.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// DefaultWebhookLimit is the per-IP budget for gateway callbacks. Gateways
// retry in bursts after an outage, so it is generous.
func DefaultWebhookLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 300, WindowDuration: time.Minute}
}

// DefaultOperatorLimit is the per-operator budget for verify, replay and
// audit endpoints.
func DefaultOperatorLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
}

// RateLimitStore counts requests per key.
type RateLimitStore interface {
	// Allow counts a request for key and reports whether it is within budget,
	// how many requests remain in the window and, when blocked, the number of
	// seconds until the window resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

// retryAfterSeconds rounds a remaining window up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	return max(int((d+time.Second-1)/time.Second), 1)
}

// KeyFunc extracts a rate limit key from a request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys on the client address. Forwarding headers are honoured only
// when RemoteAddr is one of the trusted proxies; with none configured the key
// is always RemoteAddr.
func IPKeyFunc(trustedProxies ...netip.Prefix) KeyFunc {
	return func(r *http.Request) string {
		return clientIP(r, trustedProxies)
	}
}

// clientIP walks X-Forwarded-For right to left from a trusted peer and
// returns the first hop that is not itself a trusted proxy.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	remote := remoteHost(r.RemoteAddr)
	if !isTrusted(remote, trusted) {
		return remote
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remote
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// OperatorKeyFunc keys on the authenticated operator, or the client IP for
// unauthenticated requests.
func OperatorKeyFunc(trustedProxies ...netip.Prefix) KeyFunc {
	return func(r *http.Request) string {
		if id := GetOperatorID(r.Context()); id != "" {
			return "operator:" + id
		}
		return "ip:" + clientIP(r, trustedProxies)
	}
}

func keyType(key string) string {
	if strings.HasPrefix(key, "operator:") {
		return "operator"
	}
	return "ip"
}

const rateLimitedBody = `{"error":{"code":"rate_limited","message":"Too many requests"}}`

// RateLimiter answers 429 with Retry-After once a key exhausts its budget.
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining.
// metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	limit := strconv.Itoa(config.RequestsPerWindow)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)
			if metrics != nil {
				metrics.ObserveRateLimit(normalizePath(r.URL.Path), keyType(key), !allowed)
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			UpdateResponseContext(w, SetErrorCode(r.Context(), "rate_limited"))
			reset := time.Now().Add(time.Duration(retryAfter) * time.Second)
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			h.Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(rateLimitedBody))
		})
	}
}
