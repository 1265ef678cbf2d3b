package engine

import (
	"context"
	"fmt"

	"hotel-ops/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 实体创建操作
// 创建也走审计账本和通知路由（fromState 为空、子类型 created），
// 客人服务请求的通知就是从这里发出的

// CreateRoomParams 创建客房
type CreateRoomParams struct {
	Name          string
	Actor         models.Actor
	CorrelationID string
}

// CreateAssetParams 创建资产
type CreateAssetParams struct {
	Name          string
	RoomID        *string // 初始所在房间，可空
	Actor         models.Actor
	CorrelationID string
}

// CreateRequestParams 创建服务/维修请求
type CreateRequestParams struct {
	Name          string  // 请求摘要
	Category      string  // maintenance / towel / amenity / dnd / guest_message
	Priority      string  // normal / high，默认 normal
	TargetID      *string // 指向的 room/asset
	RoomID        *string // 关联房间
	AssigneeID    *string // 创建时指派的员工，带指派时初始状态为 assigned
	Notes         string
	Actor         models.Actor
	CorrelationID string
}

// CreateRoom 创建客房，初始状态 available
func (m *StateMachine) CreateRoom(ctx context.Context, tenantID string, params CreateRoomParams) (*models.Entity, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	entity := m.newEntity(tenantID, models.KindRoom, models.RoomAvailable, params.Name, params.Actor)
	return m.create(ctx, tenantID, entity, params.Actor, "", params.CorrelationID)
}

// CreateAsset 创建资产，初始状态 pending（验收后再启用）
func (m *StateMachine) CreateAsset(ctx context.Context, tenantID string, params CreateAssetParams) (*models.Entity, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	entity := m.newEntity(tenantID, models.KindAsset, models.AssetPending, params.Name, params.Actor)
	entity.RoomRef = params.RoomID
	return m.create(ctx, tenantID, entity, params.Actor, "", params.CorrelationID)
}

// CreateRequest 创建服务/维修请求
// 业务规则：
// - category 必须是已知类别
// - 创建时带指派人则直接进入 assigned，否则 pending
func (m *StateMachine) CreateRequest(ctx context.Context, tenantID string, params CreateRequestParams) (*models.Entity, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	switch params.Category {
	case models.CategoryMaintenance, models.CategoryTowel, models.CategoryAmenity,
		models.CategoryDND, models.CategoryGuestMessage:
	default:
		return nil, fmt.Errorf("unknown request category: %s", params.Category)
	}
	priority := params.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if priority != models.PriorityNormal && priority != models.PriorityHigh {
		return nil, fmt.Errorf("unknown request priority: %s", priority)
	}

	state := models.RequestPending
	if params.AssigneeID != nil && *params.AssigneeID != "" {
		state = models.RequestAssigned
	}

	entity := m.newEntity(tenantID, models.KindRequest, state, params.Name, params.Actor)
	entity.Category = &params.Category
	entity.Priority = &priority
	entity.TargetID = params.TargetID
	entity.RoomRef = params.RoomID
	entity.AssigneeID = params.AssigneeID

	return m.create(ctx, tenantID, entity, params.Actor, params.Notes, params.CorrelationID)
}

func (m *StateMachine) newEntity(tenantID, kind, state, name string, actor models.Actor) *models.Entity {
	now := m.now()
	return &models.Entity{
		EntityID:         uuid.New().String(),
		TenantID:         tenantID,
		Kind:             kind,
		State:            state,
		Name:             name,
		LastTransitionAt: now,
		LastActorID:      actor.ID,
		LastActorName:    actor.Name,
		LastActorRole:    actor.Role,
		Metadata:         []byte("{}"),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (m *StateMachine) create(ctx context.Context, tenantID string, entity *models.Entity, actor models.Actor, notes, correlationID string) (*models.Entity, error) {
	if !models.IsKnownRole(actor.Role) {
		return nil, fmt.Errorf("unknown actor role: %s", actor.Role)
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}

	// 幂等：同一 correlation_id 的创建不重复生效
	if existing, err := m.ledger.FindByCorrelation(ctx, tenantID, correlationID); err != nil {
		return nil, fmt.Errorf("failed to check correlation_id: %w", err)
	} else if existing != nil {
		return m.store.GetEntity(ctx, tenantID, existing.EntityID)
	}

	if err := m.store.CreateEntity(ctx, tenantID, entity); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	event := m.buildEvent(entity, models.SubTypeCreated, "", entity.State, actor, notes, correlationID, entity.CreatedAt)
	if _, err := m.ledger.Record(ctx, event); err != nil {
		m.logger.Error("Failed to record creation history",
			zap.String("tenant_id", tenantID),
			zap.String("entity_id", entity.EntityID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}

	m.logger.Info("Entity created",
		zap.String("tenant_id", tenantID),
		zap.String("entity_id", entity.EntityID),
		zap.String("kind", entity.Kind),
		zap.String("state", entity.State),
		zap.String("actor_id", actor.ID),
	)

	m.dispatch(event)
	return entity, nil
}
