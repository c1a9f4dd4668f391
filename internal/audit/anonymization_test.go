package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/resortpay/internal/jobs"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.123", "192.168.1.0"},
		{"10.0.0.1", "10.0.0.0"},
		{"::ffff:203.0.113.45", "203.0.113.0"},
		{"2001:db8:1234:5678::1", "2001:db8:1234::"},
		{"fe80::1", "fe80::"},
		{"not-an-ip", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := AnonymizeIP(tt.in); got != tt.want {
				t.Errorf("AnonymizeIP(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIPAnonymizationCutoff(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if got := IPAnonymizationCutoff(now); !got.Equal(want) {
		t.Errorf("IPAnonymizationCutoff() = %v, want %v", got, want)
	}
}

type failingRepository struct {
	*InMemoryRepository
}

func (failingRepository) AnonymizeIPsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errors.New("connection reset")
}

func jobCount(t *testing.T, m *jobs.Metrics, status string) float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != jobs.MetricBackgroundJobsTotal {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, jobs.JobTypeAuditAnonymize, status) {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}

func labelsMatch(m *dto.Metric, jobType, status string) bool {
	var gotType, gotStatus string
	for _, lp := range m.GetLabel() {
		switch lp.GetName() {
		case "job_type":
			gotType = lp.GetValue()
		case "status":
			gotStatus = lp.GetValue()
		}
	}
	return gotType == jobType && gotStatus == status
}

func TestAnonymizationJob_Run(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	old := time.Now().Add(-120 * 24 * time.Hour)
	repo.now = func() time.Time { return old }
	_, _ = repo.LogAccess(ctx, LogEntry{OperatorID: "ops-a", EntityType: EntityPayment, EntityID: "pay_1", Action: ActionVerifyPayment, IPAddress: "198.51.100.77"})

	metrics := jobs.NewMetrics()
	n, err := NewAnonymizationJob(repo, metrics).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Run anonymized %d logs, want 1", n)
	}
	if got := jobCount(t, metrics, jobs.StatusSuccess); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
}

func TestAnonymizationJob_RunFailure(t *testing.T) {
	metrics := jobs.NewMetrics()
	job := NewAnonymizationJob(failingRepository{NewInMemoryRepository()}, metrics)

	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := jobCount(t, metrics, jobs.StatusFailure); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}

func TestRunPeriodicAnonymization_Stops(t *testing.T) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		RunPeriodicAnonymization(NewAnonymizationJob(NewInMemoryRepository(), nil), time.Hour, stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicAnonymization did not stop")
	}
}
