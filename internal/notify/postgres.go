package notify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onnwee/resortpay/internal/tracing"
)

// PostgresLogRepository implements LogRepository on the notification_logs table.
type PostgresLogRepository struct {
	db *sql.DB
}

// NewPostgresLogRepository creates a repository over db.
func NewPostgresLogRepository(db *sql.DB) *PostgresLogRepository {
	return &PostgresLogRepository{db: db}
}

// Insert writes a log row and fills in its id and sent_at.
func (r *PostgresLogRepository) Insert(ctx context.Context, l *Log) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "notification_logs", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO notification_logs (booking_id, payment_id, event_id, kind, channel, recipient, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, sent_at
	`
	err = r.db.QueryRowContext(ctx, query,
		l.BookingID, l.PaymentID, l.EventID, string(l.Kind), l.Channel, l.Recipient, l.Status, l.Error,
	).Scan(&l.ID, &l.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}

// ListByBooking returns logs for a booking, oldest first.
func (r *PostgresLogRepository) ListByBooking(ctx context.Context, bookingID string) (logs []*Log, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "notification_logs", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, booking_id, payment_id, event_id, kind, channel, recipient, status, error, sent_at
		FROM notification_logs
		WHERE booking_id = $1
		ORDER BY sent_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l    Log
			kind string
		)
		if err := rows.Scan(&l.ID, &l.BookingID, &l.PaymentID, &l.EventID, &kind,
			&l.Channel, &l.Recipient, &l.Status, &l.Error, &l.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification log: %w", err)
		}
		l.Kind = Kind(kind)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification logs: %w", err)
	}
	return logs, nil
}
