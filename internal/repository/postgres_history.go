package repository

import (
	"context"
	"database/sql"
	"fmt"

	"hotel-ops/internal/models"

	"go.uber.org/zap"
)

// PostgresHistoryRepo 审计流水仓库（history_entries 表）
// append-only：没有 UPDATE / DELETE
type PostgresHistoryRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresHistoryRepo 创建审计流水仓库
func NewPostgresHistoryRepo(db *sql.DB, logger *zap.Logger) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{
		db:     db,
		logger: logger,
	}
}

const historyColumns = `
	history_id,
	tenant_id,
	entity_id,
	entity_kind,
	sub_type,
	from_state,
	to_state,
	actor_id,
	actor_name,
	actor_role,
	notes,
	correlation_id,
	occurred_at,
	created_at
`

// execer 兼容 *sql.DB 和 *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// appendHistoryTx 幂等追加：correlation_id 带唯一约束，
// ON CONFLICT DO NOTHING 后 RowsAffected == 0 即为重复写入
func appendHistoryTx(ctx context.Context, ex execer, entry *models.HistoryEntry) error {
	query := `
		INSERT INTO history_entries (
			history_id,
			tenant_id,
			entity_id,
			entity_kind,
			sub_type,
			from_state,
			to_state,
			actor_id,
			actor_name,
			actor_role,
			notes,
			correlation_id,
			occurred_at,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (correlation_id) DO NOTHING
	`

	result, err := ex.ExecContext(ctx, query,
		entry.HistoryID,
		entry.TenantID,
		entry.EntityID,
		entry.EntityKind,
		entry.SubType,
		entry.FromState,
		entry.ToState,
		entry.ActorID,
		entry.ActorName,
		entry.ActorRole,
		entry.Notes,
		entry.CorrelationID,
		entry.OccurredAt,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check history append result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: correlation_id=%s", ErrDuplicateCorrelation, entry.CorrelationID)
	}

	return nil
}

// AppendHistory 幂等追加一条审计流水
func (r *PostgresHistoryRepo) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if entry.CorrelationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	return appendHistoryTx(ctx, r.db, entry)
}

// GetHistoryByCorrelation 按幂等键查询流水，未找到返回 (nil, nil)
func (r *PostgresHistoryRepo) GetHistoryByCorrelation(ctx context.Context, tenantID, correlationID string) (*models.HistoryEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}

	query := `SELECT ` + historyColumns + `
		FROM history_entries
		WHERE tenant_id = $1
		  AND correlation_id = $2
	`

	entry, err := scanHistoryEntry(r.db.QueryRowContext(ctx, query, tenantID, correlationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get history by correlation: %w", err)
	}

	return entry, nil
}

// ListEntityHistory 按实体查询流水（occurred_at 倒序，分页）
func (r *PostgresHistoryRepo) ListEntityHistory(ctx context.Context, tenantID, entityID string, page, size int) ([]*models.HistoryEntry, int, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("tenant_id is required")
	}
	if entityID == "" {
		return nil, 0, fmt.Errorf("entity_id is required")
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	countQuery := `
		SELECT COUNT(*)
		FROM history_entries
		WHERE tenant_id = $1
		  AND entity_id = $2
	`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, tenantID, entityID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history entries: %w", err)
	}

	query := `SELECT ` + historyColumns + `
		FROM history_entries
		WHERE tenant_id = $1
		  AND entity_id = $2
		ORDER BY occurred_at DESC, created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, entityID, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate history entries: %w", err)
	}

	return entries, total, nil
}

func scanHistoryEntry(row entityScanner) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	var notes sql.NullString

	err := row.Scan(
		&entry.HistoryID,
		&entry.TenantID,
		&entry.EntityID,
		&entry.EntityKind,
		&entry.SubType,
		&entry.FromState,
		&entry.ToState,
		&entry.ActorID,
		&entry.ActorName,
		&entry.ActorRole,
		&notes,
		&entry.CorrelationID,
		&entry.OccurredAt,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if notes.Valid {
		entry.Notes = &notes.String
	}

	return &entry, nil
}
