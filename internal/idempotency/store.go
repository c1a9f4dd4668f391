package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/resortpay/internal/webhook"
)

// Store arbitrates which delivery of an event id performs reconciliation.
// All arbitration happens in the webhook repository's conditional writes,
// so a Store is safe to use from many instances at once.
type Store struct {
	repo         webhook.Repository
	lease        time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLease overrides DefaultLease.
func WithLease(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store over repo.
func NewStore(repo webhook.Repository, opts ...Option) *Store {
	s := &Store{
		repo:         repo,
		lease:        DefaultLease,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire records ev in the processing state, or reports what already exists.
//
// A new id returns Fresh. A terminal id returns AlreadyProcessed with the
// stored outcome. A processing id whose lease was released or has expired is
// claimed and returns Fresh; otherwise the result is InFlight.
func (s *Store) Acquire(ctx context.Context, ev *webhook.Event) (*Result, error) {
	if ev.EventID == "" {
		return nil, ErrEmptyEventID
	}

	err := s.repo.Insert(ctx, ev)
	if err == nil {
		return &Result{Decision: Fresh, Event: ev}, nil
	}
	if !errors.Is(err, webhook.ErrDuplicateEvent) {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}

	slog.DebugContext(ctx, "webhook event already recorded", "event_id", ev.EventID)
	return s.inspect(ctx, ev.EventID)
}

// inspect loads an existing event and claims it when its lease is gone.
func (s *Store) inspect(ctx context.Context, eventID string) (*Result, error) {
	existing, err := s.repo.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook event: %w", err)
	}
	if existing.IsTerminal() {
		return &Result{Decision: AlreadyProcessed, Event: existing}, nil
	}

	now := s.now()
	if !existing.Claimable(now.Add(-s.lease)) {
		return &Result{Decision: InFlight, Event: existing}, nil
	}

	claimed, err := s.repo.Claim(ctx, eventID, now.Add(-s.lease), now)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "reclaimed abandoned webhook event",
			"event_id", eventID,
			"attempts", claimed.Attempts)
		return &Result{Decision: Fresh, Event: claimed}, nil
	case errors.Is(err, webhook.ErrNotClaimable):
		// Lost the claim race; report whatever the winner left.
		current, getErr := s.repo.Get(ctx, eventID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to reload webhook event: %w", getErr)
		}
		if current.IsTerminal() {
			return &Result{Decision: AlreadyProcessed, Event: current}, nil
		}
		return &Result{Decision: InFlight, Event: current}, nil
	default:
		return nil, fmt.Errorf("failed to claim webhook event: %w", err)
	}
}

// Await polls an in-flight event for up to wait. It returns AlreadyProcessed
// once the owner finishes, Fresh if the owner released its lease and this
// caller claimed it, or InFlight when wait elapses.
func (s *Store) Await(ctx context.Context, eventID string, wait time.Duration) (*Result, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	last := &Result{Decision: InFlight}
	for {
		select {
		case <-ctx.Done():
			return last, nil
		case <-deadline.C:
			return last, nil
		case <-ticker.C:
			res, err := s.inspect(ctx, eventID)
			if err != nil {
				return nil, err
			}
			if res.Decision != InFlight {
				return res, nil
			}
			last = res
		}
	}
}

// Reacquire takes ownership of a stored event for operator replay.
// Failed events are reopened; processing events are claimed when their
// lease is gone. Successful events return AlreadyProcessed.
func (s *Store) Reacquire(ctx context.Context, eventID string) (*Result, error) {
	ev, err := s.repo.Reopen(ctx, eventID, s.now())
	if err == nil {
		return &Result{Decision: Fresh, Event: ev}, nil
	}
	if !errors.Is(err, webhook.ErrNotClaimable) {
		return nil, err
	}
	return s.inspect(ctx, eventID)
}

// Finish writes the terminal outcome for an owned event.
func (s *Store) Finish(ctx context.Context, eventID string, res webhook.Result) error {
	return s.repo.Finish(ctx, eventID, res)
}

// Release gives up ownership after a transient failure. The event stays
// processing so the next delivery of the same id can reclaim it at once.
func (s *Store) Release(ctx context.Context, eventID, reason string) error {
	if err := s.repo.Release(ctx, eventID, reason); err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}
