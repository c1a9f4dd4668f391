package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel names as stored in the notification log.
const (
	ChannelTelegram  = "telegram"
	ChannelEmail     = "email"
	ChannelWebSocket = "websocket"
)

// Delivery status values.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

// Log records one delivery attempt on one channel.
type Log struct {
	ID        string    `json:"id"`
	BookingID string    `json:"bookingId"`
	PaymentID string    `json:"paymentId"`
	EventID   string    `json:"eventId"`
	Kind      Kind      `json:"kind"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// LogRepository persists notification delivery logs.
type LogRepository interface {
	Insert(ctx context.Context, l *Log) error
	// ListByBooking returns logs for a booking, oldest first.
	ListByBooking(ctx context.Context, bookingID string) ([]*Log, error)
}

// InMemoryLogRepository implements LogRepository with in-memory storage.
type InMemoryLogRepository struct {
	mu   sync.RWMutex
	logs []*Log
}

// NewInMemoryLogRepository creates an empty log repository.
func NewInMemoryLogRepository() *InMemoryLogRepository {
	return &InMemoryLogRepository{}
}

// Insert appends a log entry.
func (r *InMemoryLogRepository) Insert(ctx context.Context, l *Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.SentAt.IsZero() {
		l.SentAt = time.Now()
	}
	c := *l
	r.logs = append(r.logs, &c)
	return nil
}

// ListByBooking returns logs for bookingID ordered by SentAt.
func (r *InMemoryLogRepository) ListByBooking(ctx context.Context, bookingID string) ([]*Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Log
	for _, l := range r.logs {
		if l.BookingID == bookingID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}
