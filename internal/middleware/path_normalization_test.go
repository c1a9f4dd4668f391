package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{"root path", "/", "/"},
		{"health endpoint", "/health", "/health"},
		{"ready endpoint", "/ready", "/ready"},
		{"metrics endpoint", "/metrics", "/metrics"},
		{"webhook stats", "/webhooks/stats", "/webhooks/stats"},
		{"notification stream", "/ws/notifications", "/ws/notifications"},

		// Webhook receivers
		{"omise webhook", "/webhooks/omise", "/webhooks/{provider}"},
		{"stripe webhook", "/webhooks/stripe", "/webhooks/{provider}"},
		{"replay", "/webhooks/events/evt_123/replay", "/webhooks/events/{id}/replay"},
		{"replay without id", "/webhooks/events//replay", "other"},

		// Payment operator routes
		{"verify", "/payments/pay_1/verify", "/payments/{id}/verify"},
		{"verify uuid", "/payments/550e8400-e29b-41d4-a716-446655440000/verify", "/payments/{id}/verify"},
		{"audit trail", "/payments/pay_1/audit-trail", "/payments/{id}/audit-trail"},
		{"unknown payment action", "/payments/pay_1/refund", "other"},
		{"payment without action", "/payments/pay_1", "other"},

		// Unknown paths
		{"scanner request", "/wp-login.php", "other"},
		{"deep unknown", "/a/b/c/d/e", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestNormalizePath_BoundedCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		seen[normalizePath("/payments/pay_"+string(rune('a'+i%26))+"/verify")] = true
		seen[normalizePath("/random/"+string(rune('a'+i%26)))] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 distinct labels, got %d: %v", len(seen), seen)
	}
}
