package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/resortpay/internal/db"
	"github.com/onnwee/resortpay/internal/tracing"
)

const paymentColumns = `id, booking_id, amount, currency, status, charge_id, processed_at,
	gateway_response, failure_message, created_at, updated_at`

const bookingColumns = `id, guest_name, guest_email, room_number, check_in, check_out,
	status, created_at, updated_at`

const refundColumns = `id, payment_id, gateway_refund_id, amount, currency, status, reason,
	processed_at, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRepository implements Repository against PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(conn *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: conn, logger: logger}
}

// CreateBooking inserts a booking.
func (r *PostgresRepository) CreateBooking(ctx context.Context, b *Booking) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = BookingStatusPending
	}

	query := `
		INSERT INTO bookings (id, guest_name, guest_email, room_number, check_in, check_out, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		b.ID, b.GuestName, b.GuestEmail, b.RoomNumber, b.CheckIn, b.CheckOut, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// CreatePayment inserts a payment.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}

	query := `
		INSERT INTO payments (id, booking_id, amount, currency, status, charge_id,
			processed_at, gateway_response, failure_message)
		SELECT $1, b.id, $3, $4, $5, $6, $7, $8, $9
		FROM bookings b WHERE b.id = $2
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.ID, p.BookingID, p.Amount, p.Currency, p.Status, p.ChargeID,
		p.ProcessedAt, nullJSON(p.GatewayResponse), p.FailureMessage,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBookingNotFound
	}
	if db.IsUniqueViolation(err, "payments_charge_id_key") {
		return ErrDuplicateChargeID
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by id.
func (r *PostgresRepository) GetPayment(ctx context.Context, id string) (*Payment, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationQuery)

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	endSpan(spanErr(err))
	return p, err
}

// GetPaymentByChargeID retrieves a payment by gateway charge id.
func (r *PostgresRepository) GetPaymentByChargeID(ctx context.Context, chargeID string) (*Payment, error) {
	return getPaymentByCharge(ctx, r.db, chargeID, false)
}

// GetBooking retrieves a booking by id.
func (r *PostgresRepository) GetBooking(ctx context.Context, id string) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	var b Booking
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.GuestName, &b.GuestEmail, &b.RoomNumber, &b.CheckIn, &b.CheckOut,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}
	return &b, nil
}

// ListRefunds returns refunds for a payment, oldest first.
func (r *PostgresRepository) ListRefunds(ctx context.Context, paymentID string) ([]*Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*Refund
	for rows.Next() {
		var (
			rf          Refund
			processedAt sql.NullTime
		)
		if err := rows.Scan(&rf.ID, &rf.PaymentID, &rf.GatewayRefundID, &rf.Amount, &rf.Currency,
			&rf.Status, &rf.Reason, &processedAt, &rf.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		if processedAt.Valid {
			rf.ProcessedAt = &processedAt.Time
		}
		refunds = append(refunds, &rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refunds: %w", err)
	}
	return refunds, nil
}

// ListChargedSince returns charged payments updated at or after since.
func (r *PostgresRepository) ListChargedSince(ctx context.Context, since time.Time, limit int) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE charge_id IS NOT NULL AND updated_at >= $1
		ORDER BY updated_at ASC`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return out, nil
}

// WithinTx runs fn inside a READ COMMITTED transaction.
// Row locks taken with GetPaymentByChargeIDForUpdate serialize concurrent writers per payment.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "payment.transaction")
	defer func() { endSpan(err) }()

	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.WarnContext(ctx, "failed to rollback payment transaction",
				slog.String("error", err.Error()))
		}
	}()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx implements Tx on a *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetPaymentByChargeIDForUpdate(ctx context.Context, chargeID string) (*Payment, error) {
	return getPaymentByCharge(ctx, t.tx, chargeID, true)
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *Payment) error {
	query := `
		UPDATE payments
		SET status = $2, processed_at = $3, gateway_response = $4, failure_message = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		p.ID, p.Status, p.ProcessedAt, nullJSON(p.GatewayResponse), p.FailureMessage,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBookingStatus(ctx context.Context, bookingID, status string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET status = $2, updated_at = NOW() WHERE id = $1`,
		bookingID, status)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (t *pgTx) InsertRefund(ctx context.Context, rf *Refund) error {
	if rf.ID == "" {
		rf.ID = uuid.New().String()
	}

	// A savepoint keeps the surrounding transaction usable after a duplicate.
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT insert_refund`); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	query := `
		INSERT INTO refunds (id, payment_id, gateway_refund_id, amount, currency, status, reason, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		rf.ID, rf.PaymentID, rf.GatewayRefundID, rf.Amount, rf.Currency, rf.Status, rf.Reason, rf.ProcessedAt,
	).Scan(&rf.CreatedAt)
	if db.IsUniqueViolation(err, "refunds_gateway_refund_id_key") {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_refund`); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint: %w", rbErr)
		}
		return ErrRefundExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT insert_refund`); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func getPaymentByCharge(ctx context.Context, q queryer, chargeID string, forUpdate bool) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE charge_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationQuery)
	p, err := scanPayment(q.QueryRowContext(ctx, query, chargeID))
	endSpan(spanErr(err))
	return p, err
}

func scanPayment(row rowScanner) (*Payment, error) {
	var (
		p           Payment
		chargeID    sql.NullString
		processedAt sql.NullTime
		gatewayResp []byte
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.Amount, &p.Currency, &p.Status, &chargeID,
		&processedAt, &gatewayResp, &p.FailureMessage, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	if chargeID.Valid {
		p.ChargeID = &chargeID.String
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Time
	}
	if len(gatewayResp) > 0 {
		p.GatewayResponse = gatewayResp
	}
	return &p, nil
}

// spanErr drops not-found results so they are not recorded as span errors.
func spanErr(err error) error {
	if errors.Is(err, ErrPaymentNotFound) {
		return nil
	}
	return err
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
