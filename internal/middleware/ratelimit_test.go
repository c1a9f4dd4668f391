package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, retryAfter := store.Allow(ctx, "203.0.113.9", cfg)
		if !allowed || remaining != 2-i || retryAfter != 0 {
			t.Fatalf("request %d: allowed=%v remaining=%d retryAfter=%d", i+1, allowed, remaining, retryAfter)
		}
	}

	allowed, remaining, retryAfter := store.Allow(ctx, "203.0.113.9", cfg)
	if allowed || remaining != 0 {
		t.Errorf("fourth request: allowed=%v remaining=%d", allowed, remaining)
	}
	if retryAfter < 1 || retryAfter > 60 {
		t.Errorf("retryAfter = %d, want within the window", retryAfter)
	}

	if ok, _, _ := store.Allow(ctx, "198.51.100.7", cfg); !ok {
		t.Error("another gateway IP has its own budget")
	}
}

func TestInMemoryRateLimitStore_WindowExpiryAndCleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	ctx := context.Background()

	store.Allow(ctx, "k", cfg)
	now = now.Add(20 * time.Second)
	ok, _, retryAfter := store.Allow(ctx, "k", cfg)
	if ok || retryAfter != 40 {
		t.Fatalf("in window: allowed=%v retryAfter=%d, want blocked for 40s", ok, retryAfter)
	}

	now = now.Add(time.Minute)
	store.Cleanup()
	if n := len(store.buckets); n != 0 {
		t.Errorf("Cleanup left %d expired windows", n)
	}
	if ok, _, _ := store.Allow(ctx, "k", cfg); !ok {
		t.Error("request after window should be allowed")
	}
}

func TestInMemoryRateLimitStore_Concurrent(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := store.Allow(context.Background(), "burst", cfg); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Errorf("allowed %d requests, want exactly 50", got)
	}
}

func TestRunPeriodicCleanup_Stops(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		store.RunPeriodicCleanup(5*time.Millisecond, stop)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestIPKeyFunc(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	tests := []struct {
		name       string
		remoteAddr string
		trusted    []netip.Prefix
		headers    map[string]string
		want       string
	}{
		{"remote addr", "203.0.113.9:4000", nil, nil, "203.0.113.9"},
		{"remote addr without port", "203.0.113.9", nil, nil, "203.0.113.9"},
		{"ipv6", "[2001:db8::1]:443", nil, nil, "2001:db8::1"},
		{"headers ignored without trusted proxies", "203.0.113.9:4000", nil,
			map[string]string{"X-Forwarded-For": "198.51.100.1", "X-Real-IP": "198.51.100.2"}, "203.0.113.9"},
		{"headers ignored from untrusted peer", "203.0.113.9:4000", proxies,
			map[string]string{"X-Forwarded-For": "198.51.100.1"}, "203.0.113.9"},
		{"nearest untrusted hop", "10.0.0.1:80", proxies,
			map[string]string{"X-Forwarded-For": "192.0.2.66, 203.0.113.9, 10.0.0.2"}, "203.0.113.9"},
		{"real ip from trusted peer", "10.0.0.1:80", proxies,
			map[string]string{"X-Real-IP": " 198.51.100.7 "}, "198.51.100.7"},
		{"forwarded beats real ip", "10.0.0.1:80", proxies,
			map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.7"}, "203.0.113.9"},
		{"all hops trusted", "10.0.0.1:80", proxies,
			map[string]string{"X-Forwarded-For": "10.0.0.3, 10.0.0.2"}, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/omise", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IPKeyFunc(tt.trusted...)(req); got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_RotatingForwardedForSharesBudget(t *testing.T) {
	var reached int
	handler := RateLimiter(NewInMemoryRateLimitStore(),
		RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
		IPKeyFunc(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
	}))

	codes := map[int]int{}
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/omise", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes[rr.Code]++
	}

	if reached != 2 {
		t.Errorf("handler reached %d times, want 2", reached)
	}
	if codes[http.StatusTooManyRequests] != 18 {
		t.Errorf("codes = %v, want 18 rejected", codes)
	}
}

func TestOperatorKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/payments/pay_1/verify", nil)
	req.RemoteAddr = "192.0.2.10:5000"

	if got := OperatorKeyFunc()(req); got != "ip:192.0.2.10" {
		t.Errorf("anonymous key = %q", got)
	}
	req = req.WithContext(SetOperatorID(req.Context(), "ops-frontdesk"))
	if got := OperatorKeyFunc()(req); got != "operator:ops-frontdesk" {
		t.Errorf("operator key = %q", got)
	}
	if keyType("operator:ops-frontdesk") != "operator" || keyType("ip:192.0.2.10") != "ip" {
		t.Error("keyType mislabels keys")
	}
}

func TestRateLimiter(t *testing.T) {
	m := NewMetrics()
	var reached int
	handler := RateLimiter(NewInMemoryRateLimitStore(),
		RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
		IPKeyFunc(), m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/omise", nil)
		req.RemoteAddr = ip + ":443"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i, wantRemaining := range []string{"1", "0"} {
		rr := send("203.0.113.9")
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rr.Code)
		}
		if rr.Header().Get("X-RateLimit-Limit") != "2" || rr.Header().Get("X-RateLimit-Remaining") != wantRemaining {
			t.Errorf("request %d headers = %v", i+1, rr.Header())
		}
	}

	rr := send("203.0.113.9")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
	reset, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil || reset < time.Now().Unix() {
		t.Errorf("X-RateLimit-Reset = %q", rr.Header().Get("X-RateLimit-Reset"))
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error.Code != "rate_limited" {
		t.Errorf("body = %s", rr.Body.String())
	}

	if send("198.51.100.7").Code != http.StatusOK {
		t.Error("a different source IP should not be limited")
	}
	if reached != 3 {
		t.Errorf("handler reached %d times, want 3", reached)
	}

	route := "/webhooks/{provider}"
	if got := testutil.ToFloat64(m.rateLimitChecks.WithLabelValues(route, "ip")); got != 4 {
		t.Errorf("checks = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.rateLimitBlocked.WithLabelValues(route, "ip")); got != 1 {
		t.Errorf("blocked = %v, want 1", got)
	}
}

func TestRateLimiter_NilMetrics(t *testing.T) {
	handler := RateLimiter(NewInMemoryRateLimitStore(), RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute},
		IPKeyFunc(), nil)(http.NotFoundHandler())
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/omise", nil))
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		cfg     RateLimitConfig
		wantErr bool
	}{
		{DefaultWebhookLimit(), false},
		{DefaultOperatorLimit(), false},
		{RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}, true},
		{RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 0}, true},
		{RateLimitConfig{RequestsPerWindow: -1, WindowDuration: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%s", tt.cfg.RequestsPerWindow, tt.cfg.WindowDuration), func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultLimits_ReturnCopies(t *testing.T) {
	limit := DefaultWebhookLimit()
	limit.RequestsPerWindow = 1
	if DefaultWebhookLimit().RequestsPerWindow == 1 {
		t.Error("mutating a returned limit changed the default")
	}
	if DefaultWebhookLimit().RequestsPerWindow <= DefaultOperatorLimit().RequestsPerWindow {
		t.Error("webhook budget should exceed the operator budget for gateway retry bursts")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := map[time.Duration]int{
		-time.Second:            1,
		0:                       1,
		300 * time.Millisecond:  1,
		1500 * time.Millisecond: 2,
		time.Minute:             60,
	}
	for d, want := range tests {
		if got := retryAfterSeconds(d); got != want {
			t.Errorf("retryAfterSeconds(%s) = %d, want %d", d, got, want)
		}
	}
}
