package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for audit log operations.
type Repository interface {
	// LogAccess records an access event and returns the stored entry.
	LogAccess(ctx context.Context, entry LogEntry) (*AccessLog, error)

	// QueryByEntity retrieves audit logs for a specific entity, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AccessLog, error)

	// QueryByOperator retrieves audit logs for one operator, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByOperator(ctx context.Context, operatorID string, limit int) ([]*AccessLog, error)

	// AnonymizeIPsBefore truncates client addresses on entries created before cutoff.
	// Returns the number of entries changed.
	AnonymizeIPsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu         sync.RWMutex
	logs       map[string]*AccessLog
	anonymized map[string]bool
	// insertion order, oldest first
	order []string
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		logs:       make(map[string]*AccessLog),
		anonymized: make(map[string]bool),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LogAccess records an access event to the audit log.
func (r *InMemoryRepository) LogAccess(ctx context.Context, entry LogEntry) (*AccessLog, error) {
	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	log := &AccessLog{
		ID:         uuid.New().String(),
		OperatorID: entry.OperatorID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    outcome,
		CreatedAt:  r.now(),
		RequestID:  entry.RequestID,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
	}

	r.mu.Lock()
	r.logs[log.ID] = log
	r.order = append(r.order, log.ID)
	r.mu.Unlock()

	logCopy := *log
	return &logCopy, nil
}

// QueryByEntity retrieves audit logs for a specific entity, newest first.
func (r *InMemoryRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AccessLog, error) {
	return r.query(limit, func(l *AccessLog) bool {
		return l.EntityType == entityType && l.EntityID == entityID
	}), nil
}

// QueryByOperator retrieves audit logs for one operator, newest first.
func (r *InMemoryRepository) QueryByOperator(ctx context.Context, operatorID string, limit int) ([]*AccessLog, error) {
	return r.query(limit, func(l *AccessLog) bool {
		return l.OperatorID == operatorID
	}), nil
}

func (r *InMemoryRepository) query(limit int, match func(*AccessLog) bool) []*AccessLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AccessLog
	for i := len(r.order) - 1; i >= 0; i-- {
		log := r.logs[r.order[i]]
		if !match(log) {
			continue
		}
		logCopy := *log
		results = append(results, &logCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// AnonymizeIPsBefore truncates client addresses on entries created before cutoff.
func (r *InMemoryRepository) AnonymizeIPsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, log := range r.logs {
		if r.anonymized[id] || log.IPAddress == "" || !log.CreatedAt.Before(cutoff) {
			continue
		}
		log.IPAddress = AnonymizeIP(log.IPAddress)
		r.anonymized[id] = true
		n++
	}
	return n, nil
}
