package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines methods for booking, payment and refund persistence.
// Mutations that must be applied together go through WithinTx.
type Repository interface {
	// CreateBooking inserts a booking. Used by the booking flow.
	CreateBooking(ctx context.Context, booking *Booking) error

	// CreatePayment inserts a payment for an existing booking.
	// Returns ErrDuplicateChargeID if the charge id is already bound.
	CreatePayment(ctx context.Context, p *Payment) error

	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByChargeID(ctx context.Context, chargeID string) (*Payment, error)
	GetBooking(ctx context.Context, id string) (*Booking, error)

	// ListRefunds returns refunds for a payment ordered by creation time.
	ListRefunds(ctx context.Context, paymentID string) ([]*Refund, error)

	// ListChargedSince returns payments with a charge id updated at or after since,
	// oldest first, capped at limit (0 = no limit).
	ListChargedSince(ctx context.Context, since time.Time, limit int) ([]*Payment, error)

	// WithinTx runs fn in a single atomic unit. If fn returns an error
	// none of its writes are visible afterwards.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface available inside WithinTx.
type Tx interface {
	// GetPaymentByChargeIDForUpdate loads and locks the payment for the rest of the unit.
	GetPaymentByChargeIDForUpdate(ctx context.Context, chargeID string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	UpdateBookingStatus(ctx context.Context, bookingID, status string) error
	// InsertRefund returns ErrRefundExists on a duplicate gateway refund id.
	InsertRefund(ctx context.Context, r *Refund) error
}

// memState is the full dataset of an InMemoryRepository.
// Values are treated as immutable; writers replace entries with fresh copies.
type memState struct {
	payments    map[string]*Payment
	bookings    map[string]*Booking
	refunds     map[string]*Refund
	byCharge    map[string]string // charge id -> payment id
	byGatewayRF map[string]string // gateway refund id -> refund id
}

func newMemState() *memState {
	return &memState{
		payments:    make(map[string]*Payment),
		bookings:    make(map[string]*Booking),
		refunds:     make(map[string]*Refund),
		byCharge:    make(map[string]string),
		byGatewayRF: make(map[string]string),
	}
}

func (s *memState) copy() *memState {
	c := newMemState()
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	for k, v := range s.byCharge {
		c.byCharge[k] = v
	}
	for k, v := range s.byGatewayRF {
		c.byGatewayRF[k] = v
	}
	return c
}

// InMemoryRepository implements Repository with in-memory storage.
// Transactions work on a copy of the state that is swapped in on success.
type InMemoryRepository struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory payment repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		state: newMemState(),
		now:   time.Now,
	}
}

// CreateBooking adds a new booking.
func (r *InMemoryRepository) CreateBooking(ctx context.Context, booking *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if booking.ID == "" {
		booking.ID = uuid.New().String()
	}
	if booking.Status == "" {
		booking.Status = BookingStatusPending
	}
	now := r.now()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	r.state.bookings[booking.ID] = booking.clone()
	return nil
}

// CreatePayment adds a new payment.
func (r *InMemoryRepository) CreatePayment(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.bookings[p.BookingID]; !ok {
		return ErrBookingNotFound
	}
	if p.HasCharge() {
		if _, exists := r.state.byCharge[*p.ChargeID]; exists {
			return ErrDuplicateChargeID
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	now := r.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	r.state.payments[p.ID] = p.clone()
	if p.HasCharge() {
		r.state.byCharge[*p.ChargeID] = p.ID
	}
	return nil
}

// GetPayment retrieves a payment by its local id.
func (r *InMemoryRepository) GetPayment(ctx context.Context, id string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.state.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return p.clone(), nil
}

// GetPaymentByChargeID retrieves a payment by gateway charge id.
func (r *InMemoryRepository) GetPaymentByChargeID(ctx context.Context, chargeID string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state.paymentByCharge(chargeID)
}

// GetBooking retrieves a booking by id.
func (r *InMemoryRepository) GetBooking(ctx context.Context, id string) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.state.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return b.clone(), nil
}

// ListRefunds returns refunds for a payment, oldest first.
func (r *InMemoryRepository) ListRefunds(ctx context.Context, paymentID string) ([]*Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Refund
	for _, rf := range r.state.refunds {
		if rf.PaymentID == paymentID {
			out = append(out, rf.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListChargedSince returns charged payments updated at or after since.
func (r *InMemoryRepository) ListChargedSince(ctx context.Context, since time.Time, limit int) ([]*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Payment
	for _, p := range r.state.payments {
		if p.HasCharge() && !p.UpdatedAt.Before(since) {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WithinTx runs fn against a private copy of the state and commits it only if fn succeeds.
// Transactions are serialized.
func (r *InMemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := r.state.copy()
	if err := fn(ctx, &memTx{state: working, now: r.now}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (s *memState) paymentByCharge(chargeID string) (*Payment, error) {
	id, ok := s.byCharge[chargeID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return p.clone(), nil
}

// memTx is the Tx handed to WithinTx callbacks of InMemoryRepository.
type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) GetPaymentByChargeIDForUpdate(ctx context.Context, chargeID string) (*Payment, error) {
	return t.state.paymentByCharge(chargeID)
}

func (t *memTx) UpdatePayment(ctx context.Context, p *Payment) error {
	if _, ok := t.state.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	p.UpdatedAt = t.now()
	t.state.payments[p.ID] = p.clone()
	return nil
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, bookingID, status string) error {
	b, ok := t.state.bookings[bookingID]
	if !ok {
		return ErrBookingNotFound
	}
	updated := b.clone()
	updated.Status = status
	updated.UpdatedAt = t.now()
	t.state.bookings[bookingID] = updated
	return nil
}

func (t *memTx) InsertRefund(ctx context.Context, rf *Refund) error {
	if _, exists := t.state.byGatewayRF[rf.GatewayRefundID]; exists {
		return ErrRefundExists
	}
	if rf.ID == "" {
		rf.ID = uuid.New().String()
	}
	if rf.CreatedAt.IsZero() {
		rf.CreatedAt = t.now()
	}
	t.state.refunds[rf.ID] = rf.clone()
	t.state.byGatewayRF[rf.GatewayRefundID] = rf.ID
	return nil
}
