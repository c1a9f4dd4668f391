package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/resortpay/internal/jobs"
)

// AnonymizationJob truncates operator IP addresses older than IPRetention.
type AnonymizationJob struct {
	repo    Repository
	metrics jobs.Reporter
	now     func() time.Time
}

// NewAnonymizationJob creates a job over repo. metrics may be nil.
func NewAnonymizationJob(repo Repository, metrics jobs.Reporter) *AnonymizationJob {
	return &AnonymizationJob{repo: repo, metrics: metrics, now: time.Now}
}

// Run anonymizes every eligible entry and returns how many changed.
func (j *AnonymizationJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := IPAnonymizationCutoff(j.now())

	n, err := j.repo.AnonymizeIPsBefore(ctx, cutoff)
	jobs.Observe(j.metrics, jobs.JobTypeAuditAnonymize, start, err, "repository_error")
	if err != nil {
		slog.ErrorContext(ctx, "audit IP anonymization failed", "cutoff", cutoff, "error", err)
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "anonymized audit log addresses", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// RunPeriodicAnonymization runs the job every interval until stopChan is
// closed.
func RunPeriodicAnonymization(j *AnonymizationJob, interval time.Duration, stopChan <-chan struct{}) {
	jobs.Every(jobs.JobTypeAuditAnonymize, interval, stopChan, func(ctx context.Context) {
		_, _ = j.Run(ctx)
	})
}
