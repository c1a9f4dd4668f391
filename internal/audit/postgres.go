package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/resortpay/internal/tracing"
)

const accessLogColumns = `id, operator_id, entity_type, entity_id, action, outcome,
	request_id, ip_address, user_agent, created_at`

// PostgresRepository implements Repository on the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository over db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LogAccess inserts an entry and returns it with its generated id and timestamp.
func (r *PostgresRepository) LogAccess(ctx context.Context, entry LogEntry) (_ *AccessLog, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	log := &AccessLog{
		OperatorID: entry.OperatorID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    outcome,
		RequestID:  entry.RequestID,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
	}

	query := `
		INSERT INTO audit_logs (operator_id, entity_type, entity_id, action, outcome,
			request_id, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		log.OperatorID, log.EntityType, log.EntityID, log.Action, log.Outcome,
		log.RequestID, log.IPAddress, log.UserAgent,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit log: %w", err)
	}
	return log, nil
}

// QueryByEntity retrieves audit logs for a specific entity, newest first.
func (r *PostgresRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AccessLog, error) {
	query := `SELECT ` + accessLogColumns + ` FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC`
	return r.query(ctx, query, limit, entityType, entityID)
}

// QueryByOperator retrieves audit logs for one operator, newest first.
func (r *PostgresRepository) QueryByOperator(ctx context.Context, operatorID string, limit int) ([]*AccessLog, error) {
	query := `SELECT ` + accessLogColumns + ` FROM audit_logs
		WHERE operator_id = $1
		ORDER BY created_at DESC`
	return r.query(ctx, query, limit, operatorID)
}

func (r *PostgresRepository) query(ctx context.Context, query string, limit int, args ...any) (logs []*AccessLog, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l AccessLog
		if err := rows.Scan(&l.ID, &l.OperatorID, &l.EntityType, &l.EntityID, &l.Action, &l.Outcome,
			&l.RequestID, &l.IPAddress, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}

// AnonymizeIPsBefore truncates client addresses on entries created before cutoff.
// IPv4 keeps the /24 and IPv6 the /48, matching AnonymizeIP.
func (r *PostgresRepository) AnonymizeIPsBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `
		UPDATE audit_logs
		SET ip_address = CASE
				WHEN family(ip_address::inet) = 4 THEN host(set_masklen(ip_address::inet, 24)::cidr)
				ELSE host(set_masklen(ip_address::inet, 48)::cidr)
			END,
			ip_anonymized_at = NOW()
		WHERE created_at < $1
		  AND ip_anonymized_at IS NULL
		  AND ip_address <> ''
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize audit log addresses: %w", err)
	}
	return res.RowsAffected()
}
