package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/resortpay/internal/webhook"
)

type recordingArchiver struct {
	batches [][]string
	err     error
}

func (a *recordingArchiver) Archive(ctx context.Context, events []*webhook.Event) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	a.batches = append(a.batches, ids)
	return "webhook-events/test.cbor", nil
}

func seedRetention(t *testing.T, repo webhook.Repository, now time.Time) {
	t.Helper()
	ctx := context.Background()
	old := now.Add(-DefaultRetention - 24*time.Hour)

	for _, id := range []string{"old_1", "old_2", "old_3"} {
		if err := repo.Insert(ctx, newEvent(id, old)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if err := repo.Finish(ctx, id, webhook.Result{Status: webhook.StatusSuccess, Code: 200, ProcessedAt: old}); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
	}
	// Abandoned but never finished; must survive pruning.
	if err := repo.Insert(ctx, newEvent("old_processing", old)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := repo.Insert(ctx, newEvent("recent", now)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	_ = repo.Finish(ctx, "recent", webhook.Result{Status: webhook.StatusSuccess, Code: 200, ProcessedAt: now})
}

func TestPruner_ArchivesThenDeletes(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := webhook.NewInMemoryRepository()
	seedRetention(t, repo, now)

	archiver := &recordingArchiver{}
	p := NewPruner(repo, archiver, 0, nil)
	p.batchSize = 2
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	if len(archiver.batches) != 2 || len(archiver.batches[0]) != 2 || len(archiver.batches[1]) != 1 {
		t.Errorf("unexpected archive batches: %v", archiver.batches)
	}

	for _, id := range []string{"old_processing", "recent"} {
		if _, err := repo.Get(ctx, id); err != nil {
			t.Errorf("%s should survive pruning: %v", id, err)
		}
	}
	if _, err := repo.Get(ctx, "old_1"); !errors.Is(err, webhook.ErrEventNotFound) {
		t.Errorf("old_1 should be pruned, got %v", err)
	}
}

func TestPruner_ArchiveFailureKeepsEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := webhook.NewInMemoryRepository()
	seedRetention(t, repo, now)

	p := NewPruner(repo, &recordingArchiver{err: errors.New("bucket unavailable")}, 0, nil)
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(ctx)
	if err == nil {
		t.Fatal("expected error when archive fails")
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
	if _, err := repo.Get(ctx, "old_1"); err != nil {
		t.Errorf("event deleted despite archive failure: %v", err)
	}
}

func TestPruner_WithoutArchiver(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := webhook.NewInMemoryRepository()
	seedRetention(t, repo, now)

	p := NewPruner(repo, nil, 0, nil)
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
}

func TestRunPeriodicCleanup_StopsOnSignal(t *testing.T) {
	repo := webhook.NewInMemoryRepository()
	p := NewPruner(repo, nil, time.Hour, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		RunPeriodicCleanup(p, 10*time.Millisecond, stop)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicCleanup did not stop")
	}
}
