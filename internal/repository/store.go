package repository

import (
	"context"
	"time"

	"hotel-ops/internal/models"
)

// StateWrite 一次乐观并发状态写
// 仅当存储中的状态仍等于 ExpectedState 时生效，否则整个事务失败返回 ErrConflict
type StateWrite struct {
	EntityID      string
	ExpectedState string
	NewState      string

	// 以下为可选的附带字段更新（nil 表示不更新）
	SetRoomRef      *string
	ExpectedRoomRef *string // 非 nil 时条件写同时校验 room_ref（换房防并发）
	SetPrevState    *string
	ClearPrevState  bool
	SetAssignee     *string

	Actor models.Actor
	At    time.Time
}

// EntityStore 实体存储端口
// ApplyTransition 把状态写和审计流水放进同一个失败域：
// 任意一步失败，所有写入全部回滚
type EntityStore interface {
	GetEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error)
	CreateEntity(ctx context.Context, tenantID string, entity *models.Entity) error
	ListEntities(ctx context.Context, tenantID, kind string) ([]*models.Entity, error)

	// FindOpenRequests 查询指向某实体的未完成请求（按创建时间倒序）
	FindOpenRequests(ctx context.Context, tenantID, targetID string) ([]*models.Entity, error)

	// ApplyTransition 原子地执行一组条件状态写并追加一条审计流水
	// 可能的错误：ErrNotFound / ErrConflict / ErrDuplicateCorrelation / 存储错误
	ApplyTransition(ctx context.Context, tenantID string, writes []StateWrite, entry *models.HistoryEntry) error
}

// HistoryStore 审计流水存储端口（append-only，无更新/删除）
type HistoryStore interface {
	// AppendHistory 幂等追加：correlation_id 冲突时返回 ErrDuplicateCorrelation
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error

	// GetHistoryByCorrelation 按幂等键查询，未找到返回 (nil, nil)
	GetHistoryByCorrelation(ctx context.Context, tenantID, correlationID string) (*models.HistoryEntry, error)

	// ListEntityHistory 按实体查询流水，occurred_at 倒序，返回 (entries, total)
	ListEntityHistory(ctx context.Context, tenantID, entityID string, page, size int) ([]*models.HistoryEntry, int, error)
}
