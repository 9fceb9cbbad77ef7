package repository

import (
	"context"
	"database/sql"
	"fmt"

	"TuneSweep/logger"
	"TuneSweep/model"
)

// AuditRepository is the append-only sink for mutating operations. Audit
// writes are best-effort: a failed audit insert is logged, never propagated,
// so it cannot undo an already-committed deletion.
type AuditRepository interface {
	Record(ctx context.Context, entry *model.AuditEntry)
	Recent(ctx context.Context, limit int) ([]*model.AuditEntry, error)
}

type mysqlAuditRepository struct {
	DB *sql.DB
}

// NewMySQLAuditRepository creates a new instance of mysqlAuditRepository.
func NewMySQLAuditRepository(db *sql.DB) AuditRepository {
	return &mysqlAuditRepository{DB: db}
}

// Record appends one audit row.
func (r *mysqlAuditRepository) Record(ctx context.Context, entry *model.AuditEntry) {
	query := `INSERT INTO audit_log (action_type, actor, target_ids, success, error, created_at) VALUES (?, ?, ?, ?, ?, NOW())`
	if _, err := r.DB.ExecContext(ctx, query, entry.ActionType, entry.Actor, entry.TargetIDs, entry.Success, entry.Error); err != nil {
		logger.Error("failed to write audit entry",
			logger.String("action", entry.ActionType),
			logger.String("actor", entry.Actor),
			logger.ErrorField(err))
	}
}

// Recent returns the newest audit entries, for the admin endpoint.
func (r *mysqlAuditRepository) Recent(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, action_type, actor, target_ids, success, error, created_at FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*model.AuditEntry, 0, limit)
	for rows.Next() {
		e := &model.AuditEntry{}
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.ActionType, &e.Actor, &e.TargetIDs, &e.Success, &errMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in Recent: %w", err)
	}
	return entries, nil
}
