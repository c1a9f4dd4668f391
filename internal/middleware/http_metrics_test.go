package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetrics_RecordsByRoute(t *testing.T) {
	m := NewMetrics()
	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/webhooks/paypal":
			http.NotFound(w, r)
		default:
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	}))

	requests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/webhooks/omise", `{"id":"evnt_1"}`},
		{http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`},
		{http.MethodPost, "/webhooks/paypal", `{}`},
		{http.MethodPost, "/payments/pay_1/verify", ""},
		{http.MethodPost, "/payments/pay_2/verify", ""},
		{http.MethodGet, "/wp-admin", ""},
	}
	for _, req := range requests {
		handler.ServeHTTP(httptest.NewRecorder(),
			httptest.NewRequest(req.method, req.path, strings.NewReader(req.body)))
	}

	tests := []struct {
		path, status string
		want         float64
	}{
		{"/webhooks/{provider}", "200", 2},
		{"/webhooks/{provider}", "404", 1},
		{"/payments/{id}/verify", "200", 2},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", tt.path, tt.status)); got != tt.want {
			t.Errorf("requests{%s,%s} = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "other", "200")); got != 1 {
		t.Errorf("unknown paths should collapse to other, got %v", got)
	}
}

func TestHTTPMetrics_SkipsHealthChecks(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, path := range []string{"/health", "/ready"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if n := testutil.CollectAndCount(m.requests); n != 0 {
		t.Errorf("health check requests produced %d series", n)
	}
}

func TestHTTPMetrics_ResponseSize(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	body := strings.Repeat("x", 700)
	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body[:300]))
		_, _ = w.Write([]byte(body[300:]))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/payments/pay_1/audit-trail", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != MetricHTTPResponseSizeBytes {
			continue
		}
		if got := mf.GetMetric()[0].GetHistogram().GetSampleSum(); got != 700 {
			t.Errorf("response size = %v, want 700", got)
		}
		return
	}
	t.Fatalf("%s not gathered", MetricHTTPResponseSizeBytes)
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := record(rec)

	sr.WriteHeader(http.StatusAccepted)
	sr.WriteHeader(http.StatusInternalServerError)
	_, _ = sr.Write([]byte("queued"))

	if sr.status != http.StatusAccepted || rec.Code != http.StatusAccepted {
		t.Errorf("status = %d/%d, want first WriteHeader to win", sr.status, rec.Code)
	}
	if sr.bytes != int64(len("queued")) {
		t.Errorf("bytes = %d", sr.bytes)
	}
	if sr.Unwrap() != http.ResponseWriter(rec) {
		t.Error("Unwrap should return the wrapped writer")
	}
}
