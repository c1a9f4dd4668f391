package middleware

import (
	"net/http"
	"strings"
	"time"
)

// staticRoutes are recorded verbatim.
var staticRoutes = map[string]bool{
	"/":                 true,
	"/health":           true,
	"/ready":            true,
	"/metrics":          true,
	"/webhooks/stats":   true,
	"/ws/notifications": true,
}

// normalizePath maps a request path onto its route pattern, e.g.
// /payments/pay_1/verify becomes /payments/{id}/verify. Paths matching no
// route collapse to "other" so label cardinality stays bounded.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 4 && parts[1] == "payments" && parts[2] != "":
		switch parts[3] {
		case "verify", "audit-trail":
			return "/payments/{id}/" + parts[3]
		}
	case len(parts) == 5 && parts[1] == "webhooks" && parts[2] == "events" && parts[3] != "" && parts[4] == "replay":
		return "/webhooks/events/{id}/replay"
	case len(parts) == 3 && parts[1] == "webhooks" && parts[2] != "":
		return "/webhooks/{provider}"
	}
	return "other"
}

// healthPaths are polled by orchestrators and never recorded.
var healthPaths = map[string]bool{"/health": true, "/ready": true}

// HTTPMetrics records latency, request count and body sizes per route.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if healthPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)

			metrics.ObserveHTTPRequest(r.Method, normalizePath(r.URL.Path), rec.status,
				time.Since(start), r.ContentLength, rec.bytes)
		})
	}
}
