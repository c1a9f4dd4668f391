package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/resortpay/internal/db"
	"github.com/onnwee/resortpay/internal/tracing"
)

const eventColumns = `id, event_id, provider, event_type, charge_id, payload, status,
	response_code, response_body, response_hash, failure_reason, attempts,
	received_at, claimed_at, processed_at, duration_ms`

// PostgresRepository implements Repository against the webhook_events table.
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

// Insert records a new processing event. The unique constraint on event_id
// is the arbiter between concurrent deliveries.
func (r *PostgresRepository) Insert(ctx context.Context, ev *Event) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "webhook_events", tracing.DBOperationInsert)
	defer func() {
		if errors.Is(err, ErrDuplicateEvent) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	query := `
		INSERT INTO webhook_events (id, event_id, provider, event_type, charge_id, payload,
			status, attempts, received_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		ev.ID, ev.EventID, ev.Provider, ev.EventType, nullString(ev.ChargeID), string(ev.Payload),
		ev.Status, ev.Attempts, ev.ReceivedAt, ev.ClaimedAt,
	)
	if db.IsUniqueViolation(err, "webhook_events_event_id_key") {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return nil
}

// Get retrieves an event by event id.
func (r *PostgresRepository) Get(ctx context.Context, eventID string) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE event_id = $1`
	return scanEvent(r.db.QueryRowContext(ctx, query, eventID))
}

// Claim takes over a stale or released processing event.
func (r *PostgresRepository) Claim(ctx context.Context, eventID string, staleBefore, now time.Time) (*Event, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "webhook_events", tracing.DBOperationUpdate)

	query := `
		UPDATE webhook_events
		SET claimed_at = $3, attempts = attempts + 1
		WHERE event_id = $1
		  AND status = 'processing'
		  AND (claimed_at IS NULL OR claimed_at < $2)
		RETURNING ` + eventColumns
	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, eventID, staleBefore, now))
	if errors.Is(err, ErrEventNotFound) {
		endSpan(nil)
		return nil, r.notClaimable(ctx, eventID)
	}
	endSpan(err)
	return ev, err
}

// Reopen moves a failed event back to processing.
func (r *PostgresRepository) Reopen(ctx context.Context, eventID string, now time.Time) (*Event, error) {
	query := `
		UPDATE webhook_events
		SET status = 'processing', claimed_at = $2, attempts = attempts + 1,
			response_code = NULL, response_body = NULL, response_hash = NULL,
			processed_at = NULL, duration_ms = NULL
		WHERE event_id = $1 AND status = 'failed'
		RETURNING ` + eventColumns
	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, eventID, now))
	if errors.Is(err, ErrEventNotFound) {
		return nil, r.notClaimable(ctx, eventID)
	}
	return ev, err
}

// notClaimable distinguishes a missing event from one that lost a conditional update.
func (r *PostgresRepository) notClaimable(ctx context.Context, eventID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check webhook event: %w", err)
	}
	if !exists {
		return ErrEventNotFound
	}
	return ErrNotClaimable
}

// Release clears the lease on a processing event.
func (r *PostgresRepository) Release(ctx context.Context, eventID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET claimed_at = NULL, failure_reason = $2
		WHERE event_id = $1 AND status = 'processing'
	`, eventID, reason)
	if err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// Finish writes the terminal result if the event is still processing.
func (r *PostgresRepository) Finish(ctx context.Context, eventID string, res Result) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "webhook_events", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	if res.Status != StatusSuccess && res.Status != StatusFailed {
		return errors.New("terminal status must be success or failed")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $2, response_code = $3, response_body = $4, response_hash = $5,
			failure_reason = $6, processed_at = $7, duration_ms = $8, claimed_at = NULL
		WHERE event_id = $1 AND status = 'processing'
	`, eventID, res.Status, res.Code, nullJSON(res.Body), HashResponse(res.Body),
		res.FailureReason, res.ProcessedAt, res.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to finish webhook event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// ListByChargeID returns events referencing chargeID, oldest first.
func (r *PostgresRepository) ListByChargeID(ctx context.Context, chargeID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM webhook_events WHERE charge_id = $1 ORDER BY received_at ASC`
	return r.list(ctx, query, chargeID)
}

// Stats aggregates events received at or after since.
func (r *PostgresRepository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, status, COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM webhook_events
		WHERE received_at >= $1
		GROUP BY event_type, status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook stats: %w", err)
	}
	defer rows.Close()

	agg := newStatsAggregator()
	for rows.Next() {
		var (
			eventType, status string
			count, sumMs      int64
		)
		if err := rows.Scan(&eventType, &status, &count, &sumMs); err != nil {
			return nil, fmt.Errorf("failed to scan webhook stats: %w", err)
		}
		agg.addGroup(eventType, status, count, sumMs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook stats: %w", err)
	}
	return agg.result(), nil
}

// ListTerminalBefore returns terminal events received before cutoff.
func (r *PostgresRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM webhook_events
		WHERE status IN ('success', 'failed') AND received_at < $1
		ORDER BY received_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// DeleteTerminal removes the given terminal events.
func (r *PostgresRepository) DeleteTerminal(ctx context.Context, eventIDs []string) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_events
		WHERE event_id = ANY($1) AND status IN ('success', 'failed')
	`, pq.Array(eventIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete webhook events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev           Event
		chargeID     sql.NullString
		payload      []byte
		responseCode sql.NullInt64
		responseBody []byte
		responseHash sql.NullString
		claimedAt    sql.NullTime
		processedAt  sql.NullTime
		durationMs   sql.NullInt64
	)
	err := row.Scan(&ev.ID, &ev.EventID, &ev.Provider, &ev.EventType, &chargeID, &payload, &ev.Status,
		&responseCode, &responseBody, &responseHash, &ev.FailureReason, &ev.Attempts,
		&ev.ReceivedAt, &claimedAt, &processedAt, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook event: %w", err)
	}

	ev.ChargeID = chargeID.String
	ev.Payload = payload
	ev.ResponseCode = int(responseCode.Int64)
	if len(responseBody) > 0 {
		ev.ResponseBody = responseBody
	}
	ev.ResponseHash = responseHash.String
	if claimedAt.Valid {
		ev.ClaimedAt = &claimedAt.Time
	}
	if processedAt.Valid {
		ev.ProcessedAt = &processedAt.Time
	}
	ev.DurationMs = durationMs.Int64
	return &ev, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
