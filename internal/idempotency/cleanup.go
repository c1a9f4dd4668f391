package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/resortpay/internal/jobs"
	"github.com/onnwee/resortpay/internal/webhook"
)

// DefaultRetention is how long terminal webhook events are kept.
// It is far longer than any gateway retry window, so pruning never
// reopens an id the gateway could still deliver.
const DefaultRetention = 400 * 24 * time.Hour

// DefaultBatchSize caps how many events one archive object holds.
const DefaultBatchSize = 500

// Archiver stores pruned events before they are deleted.
type Archiver interface {
	// Archive persists events and returns the location written.
	Archive(ctx context.Context, events []*webhook.Event) (string, error)
}

// Pruner removes terminal webhook events older than the retention window,
// archiving each batch first when an Archiver is configured.
type Pruner struct {
	repo      webhook.Repository
	archiver  Archiver
	retention time.Duration
	batchSize int
	metrics   jobs.Reporter
	now       func() time.Time
}

// NewPruner creates a Pruner. archiver and metrics may be nil.
func NewPruner(repo webhook.Repository, archiver Archiver, retention time.Duration, metrics jobs.Reporter) *Pruner {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Pruner{
		repo:      repo,
		archiver:  archiver,
		retention: retention,
		batchSize: DefaultBatchSize,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Prune archives and deletes expired terminal events. Processing events are
// never touched. If archiving a batch fails nothing from that batch is deleted
// and the run stops.
func (p *Pruner) Prune(ctx context.Context) (deleted int64, err error) {
	start := time.Now()
	defer func() { jobs.Observe(p.metrics, jobs.JobTypeWebhookRetention, start, err, "prune_error") }()

	cutoff := p.now().Add(-p.retention)
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		batch, err := p.repo.ListTerminalBefore(ctx, cutoff, p.batchSize)
		if err != nil {
			return deleted, fmt.Errorf("failed to list expired webhook events: %w", err)
		}
		if len(batch) == 0 {
			return deleted, nil
		}

		if p.archiver != nil {
			key, err := p.archiver.Archive(ctx, batch)
			if err != nil {
				return deleted, fmt.Errorf("failed to archive webhook events: %w", err)
			}
			slog.InfoContext(ctx, "archived webhook events", "count", len(batch), "key", key)
		}

		ids := make([]string, len(batch))
		for i, ev := range batch {
			ids[i] = ev.EventID
		}
		n, err := p.repo.DeleteTerminal(ctx, ids)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete webhook events: %w", err)
		}
		deleted += n

		if len(batch) < p.batchSize || n == 0 {
			return deleted, nil
		}
	}
}

// RunPeriodicCleanup prunes once immediately and then every interval until
// stopChan is closed.
func RunPeriodicCleanup(p *Pruner, interval time.Duration, stopChan <-chan struct{}) {
	run := func(ctx context.Context) {
		deleted, err := p.Prune(ctx)
		if err != nil {
			slog.Error("webhook retention cleanup failed", "error", err, "deleted", deleted)
			return
		}
		if deleted > 0 {
			slog.Info("pruned expired webhook events", "deleted", deleted, "older_than", p.retention)
		}
	}

	run(context.Background())
	jobs.Every(jobs.JobTypeWebhookRetention, interval, stopChan, run)
}
