package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hotel-ops/internal/ledger"
	"hotel-ops/internal/models"
	"hotel-ops/internal/repository"
	"hotel-ops/internal/rules"

	"go.uber.org/zap"
)

// EventSink 状态变更事件的下游消费者（通知路由、实时同步等）
// 失败只记日志，绝不影响已提交的转换结果
type EventSink interface {
	HandleTransition(ctx context.Context, event *models.TransitionEvent) error
}

// StateMachine 状态机引擎
// 职责：
// 1. 校验转换合法性（规则表 + 备注要求）
// 2. 乐观并发写（条件写失败自动重试一次，再失败返回 Conflict）
// 3. 状态写与审计流水同事务落库
// 4. 提交后把事件分发给各 EventSink
type StateMachine struct {
	rules  *rules.TransitionRuleTable
	store  repository.EntityStore
	ledger *ledger.AuditLedger
	sinks  []EventSink
	logger *zap.Logger

	// SyncDispatch 为 true 时在调用方 goroutine 内同步分发事件（测试用）
	SyncDispatch bool

	dispatchTimeout time.Duration
	now             func() time.Time
}

// NewStateMachine 创建状态机引擎
func NewStateMachine(
	ruleTable *rules.TransitionRuleTable,
	store repository.EntityStore,
	auditLedger *ledger.AuditLedger,
	logger *zap.Logger,
) *StateMachine {
	return &StateMachine{
		rules:           ruleTable,
		store:           store,
		ledger:          auditLedger,
		logger:          logger,
		dispatchTimeout: 10 * time.Second,
		now:             time.Now,
	}
}

// AddSink 注册事件消费者
func (m *StateMachine) AddSink(sink EventSink) {
	m.sinks = append(m.sinks, sink)
}

// TransitionRequest 一次转换请求
type TransitionRequest struct {
	EntityID      string
	ToState       string
	Actor         models.Actor
	Notes         string
	CorrelationID string // 客户端提供的幂等键，每个逻辑操作唯一
}

// RequestTransition 请求一次通用状态转换
// 前置检查顺序：实体存在 → 规则表允许 → 备注要求
// 成功时返回转换后的实体快照
func (m *StateMachine) RequestTransition(ctx context.Context, tenantID string, req TransitionRequest) (*models.Entity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if req.EntityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}
	if req.ToState == "" {
		return nil, fmt.Errorf("to_state is required")
	}
	if !models.IsKnownRole(req.Actor.Role) {
		return nil, fmt.Errorf("unknown actor role: %s", req.Actor.Role)
	}
	if req.CorrelationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}

	// 幂等快路径：同一逻辑操作的重试不得重复生效
	if applied, err := m.alreadyApplied(ctx, tenantID, req.CorrelationID); err != nil {
		return nil, err
	} else if applied {
		return m.store.GetEntity(ctx, tenantID, req.EntityID)
	}

	// 条件写失败自动重试一次（针对最新状态重新校验）
	for attempt := 0; ; attempt++ {
		entity, err := m.store.GetEntity(ctx, tenantID, req.EntityID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, req.EntityID)
			}
			return nil, fmt.Errorf("failed to load entity: %w", err)
		}

		if !m.rules.IsAllowed(entity.Kind, req.Actor.Role, entity.State, req.ToState) {
			if attempt > 0 {
				// 重试后规则不再满足：并发写入者赢了，把实际状态告诉调用方
				return nil, &ConflictError{EntityID: entity.EntityID, CurrentState: entity.State}
			}
			return nil, &IllegalTransitionError{
				EntityID:  entity.EntityID,
				Kind:      entity.Kind,
				Role:      req.Actor.Role,
				FromState: entity.State,
				ToState:   req.ToState,
				Allowed:   m.rules.AllowedTargets(entity.Kind, req.Actor.Role, entity.State),
			}
		}

		if m.rules.RequiresNotes(entity.Kind, req.ToState) && strings.TrimSpace(req.Notes) == "" {
			return nil, fmt.Errorf("%w: target state %s", ErrMissingRequiredNote, req.ToState)
		}

		write := repository.StateWrite{
			EntityID:      entity.EntityID,
			ExpectedState: entity.State,
			NewState:      req.ToState,
			Actor:         req.Actor,
			At:            m.now(),
		}
		// 进入 maintenance 时记住之前的状态，离开时清掉
		if req.ToState == models.RoomMaintenance && entity.State != models.RoomMaintenance {
			prev := entity.State
			write.SetPrevState = &prev
		} else if entity.State == models.RoomMaintenance {
			write.ClearPrevState = true
		}

		event := m.buildEvent(entity, models.SubTypeStateChange, entity.State, req.ToState, req.Actor, req.Notes, req.CorrelationID, write.At)
		entry := m.ledger.BuildEntry(event)

		switch err := m.store.ApplyTransition(ctx, tenantID, []repository.StateWrite{write}, entry); {
		case err == nil:
			m.logAccepted(event)
			m.dispatch(event)
			return m.store.GetEntity(ctx, tenantID, req.EntityID)
		case errors.Is(err, repository.ErrConflict):
			if attempt == 0 {
				continue
			}
			return nil, m.conflictWithCurrentState(ctx, tenantID, req.EntityID)
		case errors.Is(err, repository.ErrDuplicateCorrelation):
			// 并发重放了同一逻辑操作：转换已经生效，按成功返回
			return m.store.GetEntity(ctx, tenantID, req.EntityID)
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, req.EntityID)
		default:
			// 状态写和流水同事务，任何失败都没有落任何一半
			return nil, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
		}
	}
}

// SendToMaintenance 送修（room / asset 通用）
// 业务规则：
// - notes 必填（谁、为什么送修必须留痕）
// - asset 只能从 active 送修；room 任意非 maintenance 状态均可
func (m *StateMachine) SendToMaintenance(ctx context.Context, tenantID, entityID string, actor models.Actor, notes, correlationID string) (*models.Entity, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, fmt.Errorf("%w: maintenance request", ErrMissingRequiredNote)
	}
	if !models.IsKnownRole(actor.Role) {
		return nil, fmt.Errorf("unknown actor role: %s", actor.Role)
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}

	if applied, err := m.alreadyApplied(ctx, tenantID, correlationID); err != nil {
		return nil, err
	} else if applied {
		return m.store.GetEntity(ctx, tenantID, entityID)
	}

	for attempt := 0; ; attempt++ {
		entity, err := m.getEntity(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}

		var toState string
		switch entity.Kind {
		case models.KindRoom:
			if entity.State == models.RoomMaintenance {
				return nil, m.illegal(entity, actor.Role, models.RoomMaintenance)
			}
			toState = models.RoomMaintenance
		case models.KindAsset:
			if entity.State != models.AssetActive {
				return nil, m.illegal(entity, actor.Role, models.AssetMaintenance)
			}
			toState = models.AssetMaintenance
		default:
			return nil, m.illegal(entity, actor.Role, models.AssetMaintenance)
		}

		prev := entity.State
		write := repository.StateWrite{
			EntityID:      entity.EntityID,
			ExpectedState: entity.State,
			NewState:      toState,
			SetPrevState:  &prev,
			Actor:         actor,
			At:            m.now(),
		}

		event := m.buildEvent(entity, models.SubTypeStateChange, entity.State, toState, actor, notes, correlationID, write.At)
		entry := m.ledger.BuildEntry(event)

		result, done, err := m.applyWithRetry(ctx, tenantID, entityID, []repository.StateWrite{write}, entry, event, attempt)
		if done {
			return result, err
		}
	}
}

// CompleteMaintenance 完成维修（复合操作）
// (a) 实体从 maintenance 恢复到送修前的状态
// (b) 指向该实体的最近一条未完成请求转为 completed（尽力而为，找不到不算失败）
// (c) 两个效果共用同一条流水、同一个 correlation_id
func (m *StateMachine) CompleteMaintenance(ctx context.Context, tenantID, entityID string, actor models.Actor, notes, correlationID string) (*models.Entity, error) {
	if !models.IsKnownRole(actor.Role) {
		return nil, fmt.Errorf("unknown actor role: %s", actor.Role)
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}

	if applied, err := m.alreadyApplied(ctx, tenantID, correlationID); err != nil {
		return nil, err
	} else if applied {
		return m.store.GetEntity(ctx, tenantID, entityID)
	}

	for attempt := 0; ; attempt++ {
		entity, err := m.getEntity(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}

		if entity.State != models.RoomMaintenance && entity.State != models.AssetMaintenance {
			return nil, m.illegal(entity, actor.Role, restoredState(entity))
		}

		toState := restoredState(entity)
		at := m.now()
		writes := []repository.StateWrite{{
			EntityID:       entity.EntityID,
			ExpectedState:  entity.State,
			NewState:       toState,
			ClearPrevState: true,
			Actor:          actor,
			At:             at,
		}}

		// 尽力关联未完成的维修请求；零条匹配不是错误
		open, err := m.store.FindOpenRequests(ctx, tenantID, entity.EntityID)
		if err != nil {
			m.logger.Warn("Failed to look up open maintenance requests",
				zap.String("tenant_id", tenantID),
				zap.String("entity_id", entity.EntityID),
				zap.Error(err),
			)
		}
		if len(open) > 1 {
			m.logger.Warn("Multiple open maintenance requests for one entity, closing the newest",
				zap.String("tenant_id", tenantID),
				zap.String("entity_id", entity.EntityID),
				zap.Int("open_count", len(open)),
			)
		}
		if len(open) > 0 {
			request := open[0]
			writes = append(writes, repository.StateWrite{
				EntityID:      request.EntityID,
				ExpectedState: request.State,
				NewState:      models.RequestCompleted,
				Actor:         actor,
				At:            at,
			})
		}

		event := m.buildEvent(entity, models.SubTypeStateChange, entity.State, toState, actor, notes, correlationID, at)
		entry := m.ledger.BuildEntry(event)

		result, done, err := m.applyWithRetry(ctx, tenantID, entityID, writes, entry, event, attempt)
		if done {
			return result, err
		}
	}
}

// Retire 报废（asset 专用，单向终态）
// 业务规则：
// - reason 必填
// - 已报废或维修中的资产不可报废（先完成维修）
// - 仅 manager / admin / superadmin 可操作
func (m *StateMachine) Retire(ctx context.Context, tenantID, entityID, reason string, actor models.Actor, correlationID string) (*models.Entity, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: retirement reason", ErrMissingRequiredNote)
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}
	switch actor.Role {
	case models.RoleManager, models.RoleAdmin, models.RoleSuperAdmin:
	default:
		if !models.IsKnownRole(actor.Role) {
			return nil, fmt.Errorf("unknown actor role: %s", actor.Role)
		}
		entity, err := m.getEntity(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}
		return nil, m.illegal(entity, actor.Role, models.AssetRetired)
	}

	if applied, err := m.alreadyApplied(ctx, tenantID, correlationID); err != nil {
		return nil, err
	} else if applied {
		return m.store.GetEntity(ctx, tenantID, entityID)
	}

	for attempt := 0; ; attempt++ {
		entity, err := m.getEntity(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}

		if entity.Kind != models.KindAsset ||
			entity.State == models.AssetRetired ||
			entity.State == models.AssetMaintenance {
			return nil, m.illegal(entity, actor.Role, models.AssetRetired)
		}

		write := repository.StateWrite{
			EntityID:      entity.EntityID,
			ExpectedState: entity.State,
			NewState:      models.AssetRetired,
			Actor:         actor,
			At:            m.now(),
		}

		event := m.buildEvent(entity, models.SubTypeStateChange, entity.State, models.AssetRetired, actor, reason, correlationID, write.At)
		entry := m.ledger.BuildEntry(event)

		result, done, err := m.applyWithRetry(ctx, tenantID, entityID, []repository.StateWrite{write}, entry, event, attempt)
		if done {
			return result, err
		}
	}
}

// Transfer 资产换房：只改 room_ref，不改生命周期状态
// 仍产生 relocation 子类型的事件，审计与通知和普通转换同一条链路
func (m *StateMachine) Transfer(ctx context.Context, tenantID, assetID, fromRoomID, toRoomID string, actor models.Actor, reason, correlationID string) (*models.Entity, error) {
	if fromRoomID == "" || toRoomID == "" {
		return nil, fmt.Errorf("from_room_id and to_room_id are required")
	}
	if !models.IsKnownRole(actor.Role) {
		return nil, fmt.Errorf("unknown actor role: %s", actor.Role)
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation_id is required")
	}

	if applied, err := m.alreadyApplied(ctx, tenantID, correlationID); err != nil {
		return nil, err
	} else if applied {
		return m.store.GetEntity(ctx, tenantID, assetID)
	}

	for attempt := 0; ; attempt++ {
		entity, err := m.getEntity(ctx, tenantID, assetID)
		if err != nil {
			return nil, err
		}

		if entity.Kind != models.KindAsset || entity.State == models.AssetRetired {
			return nil, m.illegal(entity, actor.Role, entity.State)
		}
		if entity.RoomRef == nil || *entity.RoomRef != fromRoomID {
			return nil, m.conflictWithCurrentState(ctx, tenantID, assetID)
		}

		write := repository.StateWrite{
			EntityID:        entity.EntityID,
			ExpectedState:   entity.State,
			NewState:        entity.State, // 状态不变
			ExpectedRoomRef: &fromRoomID,
			SetRoomRef:      &toRoomID,
			Actor:           actor,
			At:              m.now(),
		}

		event := m.buildEvent(entity, models.SubTypeRelocation, entity.State, entity.State, actor, reason, correlationID, write.At)
		event.FromRoom = &fromRoomID
		event.ToRoom = &toRoomID
		entry := m.ledger.BuildEntry(event)

		result, done, err := m.applyWithRetry(ctx, tenantID, assetID, []repository.StateWrite{write}, entry, event, attempt)
		if done {
			return result, err
		}
	}
}

// LegalTransitions 当前角色在实体当前状态下的合法目标集合（UI 渲染可用操作）
func (m *StateMachine) LegalTransitions(ctx context.Context, tenantID, entityID, role string) ([]string, error) {
	entity, err := m.getEntity(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	return m.rules.AllowedTargets(entity.Kind, role, entity.State), nil
}

// ============================================
// 内部工具
// ============================================

// applyWithRetry 提交一组写；done=false 表示应该重试（条件写冲突且还有重试额度）
func (m *StateMachine) applyWithRetry(
	ctx context.Context,
	tenantID, entityID string,
	writes []repository.StateWrite,
	entry *models.HistoryEntry,
	event *models.TransitionEvent,
	attempt int,
) (*models.Entity, bool, error) {
	switch err := m.store.ApplyTransition(ctx, tenantID, writes, entry); {
	case err == nil:
		m.logAccepted(event)
		m.dispatch(event)
		entity, err := m.store.GetEntity(ctx, tenantID, entityID)
		return entity, true, err
	case errors.Is(err, repository.ErrConflict):
		if attempt == 0 {
			return nil, false, nil
		}
		return nil, true, m.conflictWithCurrentState(ctx, tenantID, entityID)
	case errors.Is(err, repository.ErrDuplicateCorrelation):
		entity, err := m.store.GetEntity(ctx, tenantID, entityID)
		return entity, true, err
	case errors.Is(err, repository.ErrNotFound):
		return nil, true, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	default:
		return nil, true, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
}

// alreadyApplied 幂等快路径：correlation_id 已有流水说明逻辑操作已生效
func (m *StateMachine) alreadyApplied(ctx context.Context, tenantID, correlationID string) (bool, error) {
	existing, err := m.ledger.FindByCorrelation(ctx, tenantID, correlationID)
	if err != nil {
		return false, fmt.Errorf("failed to check correlation_id: %w", err)
	}
	return existing != nil, nil
}

func (m *StateMachine) getEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error) {
	entity, err := m.store.GetEntity(ctx, tenantID, entityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
		}
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	return entity, nil
}

func (m *StateMachine) illegal(entity *models.Entity, role, toState string) error {
	return &IllegalTransitionError{
		EntityID:  entity.EntityID,
		Kind:      entity.Kind,
		Role:      role,
		FromState: entity.State,
		ToState:   toState,
		Allowed:   m.rules.AllowedTargets(entity.Kind, role, entity.State),
	}
}

func (m *StateMachine) conflictWithCurrentState(ctx context.Context, tenantID, entityID string) error {
	current := "unknown"
	if entity, err := m.store.GetEntity(ctx, tenantID, entityID); err == nil {
		current = entity.State
	}
	return &ConflictError{EntityID: entityID, CurrentState: current}
}

func (m *StateMachine) buildEvent(
	entity *models.Entity,
	subType, fromState, toState string,
	actor models.Actor,
	notes, correlationID string,
	at time.Time,
) *models.TransitionEvent {
	event := &models.TransitionEvent{
		TenantID:      entity.TenantID,
		EntityID:      entity.EntityID,
		EntityKind:    entity.Kind,
		EntityName:    entity.Name,
		SubType:       subType,
		FromState:     fromState,
		ToState:       toState,
		Actor:         actor,
		Timestamp:     at,
		CorrelationID: correlationID,
		Category:      entity.Category,
		Priority:      entity.Priority,
		RoomRef:       entity.RoomRef,
	}
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		event.Notes = &trimmed
	}
	return event
}

func (m *StateMachine) logAccepted(event *models.TransitionEvent) {
	m.logger.Info("Transition accepted",
		zap.String("tenant_id", event.TenantID),
		zap.String("entity_id", event.EntityID),
		zap.String("entity_kind", event.EntityKind),
		zap.String("from_state", event.FromState),
		zap.String("to_state", event.ToState),
		zap.String("actor_id", event.Actor.ID),
		zap.String("actor_role", event.Actor.Role),
		zap.String("correlation_id", event.CorrelationID),
	)
}

// dispatch 提交后分发事件；sink 失败只记日志，转换结果不受影响
func (m *StateMachine) dispatch(event *models.TransitionEvent) {
	if len(m.sinks) == 0 {
		return
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.dispatchTimeout)
		defer cancel()
		for _, sink := range m.sinks {
			if err := sink.HandleTransition(ctx, event); err != nil {
				m.logger.Warn("Event sink failed",
					zap.String("entity_id", event.EntityID),
					zap.String("correlation_id", event.CorrelationID),
					zap.Error(err),
				)
			}
		}
	}

	if m.SyncDispatch {
		run()
		return
	}
	go run()
}

// restoredState 维修完成后恢复的状态（没记录 prev_state 时取类型默认值）
func restoredState(entity *models.Entity) string {
	if entity.PrevState != nil && *entity.PrevState != "" {
		return *entity.PrevState
	}
	if entity.Kind == models.KindRoom {
		return models.RoomAvailable
	}
	return models.AssetActive
}
