package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotel-ops/internal/models"
	"hotel-ops/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditLedger 审计账本
// 每个被接受的状态变更恰好对应一条流水；correlation_id 幂等，
// 重放同一 correlation_id 直接返回已有流水，不产生重复记录
type AuditLedger struct {
	history repository.HistoryStore
	logger  *zap.Logger
}

// NewAuditLedger 创建审计账本
func NewAuditLedger(history repository.HistoryStore, logger *zap.Logger) *AuditLedger {
	return &AuditLedger{
		history: history,
		logger:  logger,
	}
}

// BuildEntry 由事件构建一条流水（引擎在事务内落库时使用）
func (l *AuditLedger) BuildEntry(event *models.TransitionEvent) *models.HistoryEntry {
	now := time.Now()
	return &models.HistoryEntry{
		HistoryID:     uuid.New().String(),
		TenantID:      event.TenantID,
		EntityID:      event.EntityID,
		EntityKind:    event.EntityKind,
		SubType:       event.SubType,
		FromState:     event.FromState,
		ToState:       event.ToState,
		ActorID:       event.Actor.ID,
		ActorName:     event.Actor.Name,
		ActorRole:     event.Actor.Role,
		Notes:         event.Notes,
		CorrelationID: event.CorrelationID,
		OccurredAt:    event.Timestamp,
		CreatedAt:     now,
	}
}

// Record 幂等追加一条流水
// 业务规则：
// - correlation_id 必填
// - 同一 correlation_id 已存在时返回已有流水，不报错不重复
func (l *AuditLedger) Record(ctx context.Context, event *models.TransitionEvent) (*models.HistoryEntry, error) {
	if event == nil {
		return nil, fmt.Errorf("event is required")
	}
	if event.CorrelationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}

	entry := l.BuildEntry(event)
	err := l.history.AppendHistory(ctx, entry)
	if err == nil {
		return entry, nil
	}

	if errors.Is(err, repository.ErrDuplicateCorrelation) {
		existing, getErr := l.history.GetHistoryByCorrelation(ctx, event.TenantID, event.CorrelationID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load existing history entry: %w", getErr)
		}
		if existing != nil {
			return existing, nil
		}
		// 唯一约束命中但又查不到，只可能是并发删除，账本不支持删除
		return nil, fmt.Errorf("history entry vanished after duplicate detection: %w", err)
	}

	l.logger.Error("Failed to record history entry",
		zap.String("tenant_id", event.TenantID),
		zap.String("entity_id", event.EntityID),
		zap.String("correlation_id", event.CorrelationID),
		zap.Error(err),
	)
	return nil, fmt.Errorf("failed to record history entry: %w", err)
}

// FindByCorrelation 按幂等键查询，未找到返回 (nil, nil)
func (l *AuditLedger) FindByCorrelation(ctx context.Context, tenantID, correlationID string) (*models.HistoryEntry, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}
	return l.history.GetHistoryByCorrelation(ctx, tenantID, correlationID)
}

// ListEntityHistory 查询某实体的流水（occurred_at 倒序，供报表/历史视图使用）
func (l *AuditLedger) ListEntityHistory(ctx context.Context, tenantID, entityID string, page, size int) ([]*models.HistoryEntry, int, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("tenant_id is required")
	}
	if entityID == "" {
		return nil, 0, fmt.Errorf("entity_id is required")
	}
	return l.history.ListEntityHistory(ctx, tenantID, entityID, page, size)
}
