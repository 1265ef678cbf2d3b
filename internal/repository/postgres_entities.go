package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"hotel-ops/internal/models"

	"go.uber.org/zap"
)

// PostgresEntityRepo 实体仓库（entities 表 + history_entries 表）
// 乐观并发：所有状态写都以 WHERE state = $expected 为条件
type PostgresEntityRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresEntityRepo 创建实体仓库
func NewPostgresEntityRepo(db *sql.DB, logger *zap.Logger) *PostgresEntityRepo {
	return &PostgresEntityRepo{
		db:     db,
		logger: logger,
	}
}

const entityColumns = `
	entity_id,
	tenant_id,
	kind,
	state,
	name,
	room_ref,
	target_id,
	category,
	priority,
	assignee_id,
	prev_state,
	last_transition_at,
	last_actor_id,
	last_actor_name,
	last_actor_role,
	metadata,
	created_at,
	updated_at
`

// GetEntity 按 entity_id 获取实体（需验证 tenant_id）
func (r *PostgresEntityRepo) GetEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	query := `SELECT ` + entityColumns + `
		FROM entities
		WHERE entity_id = $1
		  AND tenant_id = $2
	`

	entity, err := scanEntity(r.db.QueryRowContext(ctx, query, entityID, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: entity_id=%s, tenant_id=%s", ErrNotFound, entityID, tenantID)
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	return entity, nil
}

// CreateEntity 创建实体
func (r *PostgresEntityRepo) CreateEntity(ctx context.Context, tenantID string, entity *models.Entity) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if entity == nil {
		return fmt.Errorf("entity is required")
	}
	if entity.TenantID != tenantID {
		return fmt.Errorf("entity.tenant_id must match tenant_id parameter")
	}

	query := `
		INSERT INTO entities (
			entity_id,
			tenant_id,
			kind,
			state,
			name,
			room_ref,
			target_id,
			category,
			priority,
			assignee_id,
			prev_state,
			last_transition_at,
			last_actor_id,
			last_actor_name,
			last_actor_role,
			metadata,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		entity.EntityID,
		entity.TenantID,
		entity.Kind,
		entity.State,
		entity.Name,
		entity.RoomRef,
		entity.TargetID,
		entity.Category,
		entity.Priority,
		entity.AssigneeID,
		entity.PrevState,
		entity.LastTransitionAt,
		entity.LastActorID,
		entity.LastActorName,
		entity.LastActorRole,
		entity.Metadata,
		entity.CreatedAt,
		entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

// ListEntities 按类型查询实体列表（kind 为空时返回全部）
func (r *PostgresEntityRepo) ListEntities(ctx context.Context, tenantID, kind string) ([]*models.Entity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `SELECT ` + entityColumns + `
		FROM entities
		WHERE tenant_id = $1
	`
	args := []interface{}{tenantID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}

	return entities, nil
}

// FindOpenRequests 查询指向某实体的未完成请求（创建时间倒序，最新的在前）
func (r *PostgresEntityRepo) FindOpenRequests(ctx context.Context, tenantID, targetID string) ([]*models.Entity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}

	query := `SELECT ` + entityColumns + `
		FROM entities
		WHERE tenant_id = $1
		  AND kind = $2
		  AND target_id = $3
		  AND state != $4
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, models.KindRequest, targetID, models.RequestCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to find open requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.Entity
	for rows.Next() {
		request, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}

	return requests, nil
}

// ApplyTransition 在单个事务内执行一组条件状态写并追加审计流水
// 任意一步失败则全部回滚：
// - 条件写未命中 → ErrConflict（实体存在）或 ErrNotFound（实体不存在）
// - correlation_id 冲突 → ErrDuplicateCorrelation
func (r *PostgresEntityRepo) ApplyTransition(ctx context.Context, tenantID string, writes []StateWrite, entry *models.HistoryEntry) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if len(writes) == 0 {
		return fmt.Errorf("writes cannot be empty")
	}
	if entry == nil {
		return fmt.Errorf("history entry is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		if err := r.applyWrite(ctx, tx, tenantID, w); err != nil {
			return err
		}
	}

	if err := appendHistoryTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	return nil
}

// applyWrite 执行单条条件状态写
func (r *PostgresEntityRepo) applyWrite(ctx context.Context, tx *sql.Tx, tenantID string, w StateWrite) error {
	setParts := []string{
		"state = $1",
		"last_transition_at = $2",
		"last_actor_id = $3",
		"last_actor_name = $4",
		"last_actor_role = $5",
		"updated_at = $2",
	}
	args := []interface{}{w.NewState, w.At, w.Actor.ID, w.Actor.Name, w.Actor.Role}
	argN := 6

	if w.SetRoomRef != nil {
		setParts = append(setParts, fmt.Sprintf("room_ref = $%d", argN))
		args = append(args, *w.SetRoomRef)
		argN++
	}
	if w.SetPrevState != nil {
		setParts = append(setParts, fmt.Sprintf("prev_state = $%d", argN))
		args = append(args, *w.SetPrevState)
		argN++
	} else if w.ClearPrevState {
		setParts = append(setParts, "prev_state = NULL")
	}
	if w.SetAssignee != nil {
		setParts = append(setParts, fmt.Sprintf("assignee_id = $%d", argN))
		args = append(args, *w.SetAssignee)
		argN++
	}

	query := fmt.Sprintf(`
		UPDATE entities
		SET %s
		WHERE entity_id = $%d
		  AND tenant_id = $%d
		  AND state = $%d
	`, strings.Join(setParts, ", "), argN, argN+1, argN+2)
	args = append(args, w.EntityID, tenantID, w.ExpectedState)
	argN += 3

	if w.ExpectedRoomRef != nil {
		query += fmt.Sprintf(` AND room_ref = $%d`, argN)
		args = append(args, *w.ExpectedRoomRef)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to apply state write: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check state write result: %w", err)
	}
	if affected == 0 {
		// 区分"实体不存在"和"并发写入者先到"
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM entities WHERE entity_id = $1 AND tenant_id = $2`,
			w.EntityID, tenantID,
		).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: entity_id=%s", ErrNotFound, w.EntityID)
		}
		if err != nil {
			return fmt.Errorf("failed to read current state: %w", err)
		}
		return fmt.Errorf("%w: entity_id=%s, expected=%s, actual=%s",
			ErrConflict, w.EntityID, w.ExpectedState, current)
	}

	return nil
}

// entityScanner 兼容 *sql.Row 和 *sql.Rows
type entityScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row entityScanner) (*models.Entity, error) {
	var entity models.Entity
	var roomRef, targetID, category, priority, assigneeID, prevState sql.NullString
	var lastTransitionAt sql.NullTime
	var metadata []byte

	err := row.Scan(
		&entity.EntityID,
		&entity.TenantID,
		&entity.Kind,
		&entity.State,
		&entity.Name,
		&roomRef,
		&targetID,
		&category,
		&priority,
		&assigneeID,
		&prevState,
		&lastTransitionAt,
		&entity.LastActorID,
		&entity.LastActorName,
		&entity.LastActorRole,
		&metadata,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if roomRef.Valid {
		entity.RoomRef = &roomRef.String
	}
	if targetID.Valid {
		entity.TargetID = &targetID.String
	}
	if category.Valid {
		entity.Category = &category.String
	}
	if priority.Valid {
		entity.Priority = &priority.String
	}
	if assigneeID.Valid {
		entity.AssigneeID = &assigneeID.String
	}
	if prevState.Valid {
		entity.PrevState = &prevState.String
	}
	if lastTransitionAt.Valid {
		entity.LastTransitionAt = lastTransitionAt.Time
	} else {
		entity.LastTransitionAt = time.Time{}
	}
	if len(metadata) > 0 {
		entity.Metadata = metadata
	} else {
		entity.Metadata = []byte("{}")
	}

	return &entity, nil
}
