package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
)

const auditColumns = `id, timestamp, user_id, user_email, user_role, action, resource,
	resource_id, status, error_message, reason, details, ip_address, user_agent`

type auditRepository struct {
	BaseRepository
}

// auditRow carries the JSONB details column alongside the entry
type auditRow struct {
	model.AuditLog
	DetailsJSON []byte `db:"details"`
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`

	var details []byte
	if len(log.Details) > 0 {
		var err error
		if details, err = json.Marshal(log.Details); err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Timestamp,
		log.UserID,
		log.UserEmail,
		log.UserRole,
		log.Action,
		log.Resource,
		log.ResourceID,
		log.Status,
		log.ErrorMessage,
		log.Reason,
		details,
		log.IPAddress,
		log.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`
	var args []interface{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.Resource != "" {
		args = append(args, filter.Resource)
		query += fmt.Sprintf(" AND resource = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.StartTime != nil {
		args = append(args, *filter.StartTime)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if filter.EndTime != nil {
		args = append(args, *filter.EndTime)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	logs := make([]*model.AuditLog, 0, len(rows))
	for i := range rows {
		entry := rows[i].AuditLog
		if len(rows[i].DetailsJSON) > 0 {
			if err := json.Unmarshal(rows[i].DetailsJSON, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		logs = append(logs, &entry)
	}
	return logs, nil
}

func (r *auditRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM audit_logs
		WHERE timestamp < $1
	`

	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	return result.RowsAffected()
}
