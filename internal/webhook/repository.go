package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository defines methods for webhook event persistence.
// Every write is conditional on the stored status so that concurrent
// deliveries of one event id are arbitrated by the store, not by callers.
type Repository interface {
	// Insert records a new processing event.
	// Returns ErrDuplicateEvent if the event id already exists.
	Insert(ctx context.Context, ev *Event) error

	// Get retrieves an event by gateway event id.
	Get(ctx context.Context, eventID string) (*Event, error)

	// Claim takes over a processing event whose lease is released or older than staleBefore.
	// Returns ErrNotClaimable if another caller holds a live lease or the event is terminal.
	Claim(ctx context.Context, eventID string, staleBefore, now time.Time) (*Event, error)

	// Reopen moves a failed event back to processing for operator replay.
	Reopen(ctx context.Context, eventID string, now time.Time) (*Event, error)

	// Release clears the lease on a processing event so the next delivery can reclaim it.
	Release(ctx context.Context, eventID, reason string) error

	// Finish writes the terminal result. Returns ErrAlreadyTerminal if the event is not processing.
	Finish(ctx context.Context, eventID string, res Result) error

	// ListByChargeID returns events referencing a charge, oldest first.
	ListByChargeID(ctx context.Context, chargeID string) ([]*Event, error)

	// Stats aggregates events received at or after since.
	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// ListTerminalBefore returns up to limit terminal events received before cutoff, oldest first.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error)

	// DeleteTerminal removes the given events if they are terminal. Returns the number removed.
	DeleteTerminal(ctx context.Context, eventIDs []string) (int64, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events map[string]*Event // event_id -> event
}

// NewInMemoryRepository creates a new in-memory webhook event repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		events: make(map[string]*Event),
	}
}

// Insert records a new event.
func (r *InMemoryRepository) Insert(ctx context.Context, ev *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[ev.EventID]; exists {
		return ErrDuplicateEvent
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	r.events[ev.EventID] = ev.clone()
	return nil
}

// Get retrieves an event by event id.
func (r *InMemoryRepository) Get(ctx context.Context, eventID string) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return ev.clone(), nil
}

// Claim takes over a stale or released processing event.
func (r *InMemoryRepository) Claim(ctx context.Context, eventID string, staleBefore, now time.Time) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	if !ev.Claimable(staleBefore) {
		return nil, ErrNotClaimable
	}
	claimed := now
	ev.ClaimedAt = &claimed
	ev.Attempts++
	return ev.clone(), nil
}

// Reopen moves a failed event back to processing.
func (r *InMemoryRepository) Reopen(ctx context.Context, eventID string, now time.Time) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	if ev.Status != StatusFailed {
		return nil, ErrNotClaimable
	}
	claimed := now
	ev.Status = StatusProcessing
	ev.ClaimedAt = &claimed
	ev.Attempts++
	ev.ResponseCode = 0
	ev.ResponseBody = nil
	ev.ResponseHash = ""
	ev.ProcessedAt = nil
	ev.DurationMs = 0
	return ev.clone(), nil
}

// Release clears the lease on a processing event.
func (r *InMemoryRepository) Release(ctx context.Context, eventID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	if ev.Status != StatusProcessing {
		return ErrAlreadyTerminal
	}
	ev.ClaimedAt = nil
	ev.FailureReason = reason
	return nil
}

// Finish writes the terminal result.
func (r *InMemoryRepository) Finish(ctx context.Context, eventID string, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	return ev.Complete(res)
}

// ListByChargeID returns events referencing chargeID, oldest first.
func (r *InMemoryRepository) ListByChargeID(ctx context.Context, chargeID string) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Event
	for _, ev := range r.events {
		if ev.ChargeID == chargeID {
			out = append(out, ev.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// Stats aggregates events received at or after since.
func (r *InMemoryRepository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := newStatsAggregator()
	for _, ev := range r.events {
		if ev.ReceivedAt.Before(since) {
			continue
		}
		agg.add(ev.EventType, ev.Status, ev.DurationMs)
	}
	return agg.result(), nil
}

// ListTerminalBefore returns terminal events received before cutoff.
func (r *InMemoryRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Event
	for _, ev := range r.events {
		if ev.IsTerminal() && ev.ReceivedAt.Before(cutoff) {
			out = append(out, ev.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteTerminal removes the given terminal events.
func (r *InMemoryRepository) DeleteTerminal(ctx context.Context, eventIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for _, id := range eventIDs {
		ev, ok := r.events[id]
		if !ok || !ev.IsTerminal() {
			continue
		}
		delete(r.events, id)
		deleted++
	}
	return deleted, nil
}
