package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hotel-ops/internal/models"
	"hotel-ops/internal/notifier"
	"hotel-ops/internal/redisx"

	"go.uber.org/zap"
)

// 单条投递结果（多通道投递取聚合结果）
const (
	DeliveryDelivered = "delivered" // 至少一个通道送达
	DeliveryFailed    = "failed"    // 所有通道都失败
	DeliverySkipped   = "skipped"   // 去重命中，本次不投递
)

// 通知深链默认前缀（员工端 App 注册的 scheme）
const defaultDeepLinkBase = "hotelops://entities"

// Delivery 单个目标的投递记录
// Status 为 delivered 时 Error 仍可能非空（部分通道失败）
type Delivery struct {
	EventType string          `json:"event_type"`
	Target    notifier.Target `json:"target"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// DispatchOutcome 一次路由的完整投递结果
type DispatchOutcome struct {
	CorrelationID string     `json:"correlation_id"`
	EventTypes    []string   `json:"event_types"`
	Deliveries    []Delivery `json:"deliveries"`
}

// DedupeGuard 通知投递去重（Redis SETNX 占位）
type DedupeGuard struct {
	Client    *redisx.Client
	KeyPrefix string
	TTL       time.Duration
}

// NotificationRouter 通知路由器
// 按路由矩阵把状态变更事件扇出到角色/主题目标，单目标失败不影响其他目标
type NotificationRouter struct {
	matrix       *RoutingMatrix
	notifiers    []notifier.Notifier
	dedupe       *DedupeGuard // 可选
	deepLinkBase string
	logger       *zap.Logger
}

// NewNotificationRouter 创建通知路由器
func NewNotificationRouter(matrix *RoutingMatrix, notifiers []notifier.Notifier, logger *zap.Logger) *NotificationRouter {
	return &NotificationRouter{
		matrix:       matrix,
		notifiers:    notifiers,
		deepLinkBase: defaultDeepLinkBase,
		logger:       logger,
	}
}

// SetDedupeGuard 启用投递去重
func (r *NotificationRouter) SetDedupeGuard(guard *DedupeGuard) {
	r.dedupe = guard
}

// SetDeepLinkBase 设置通知深链前缀
func (r *NotificationRouter) SetDeepLinkBase(base string) {
	if base != "" {
		r.deepLinkBase = base
	}
}

// HandleTransition 实现状态机的事件接收接口
func (r *NotificationRouter) HandleTransition(ctx context.Context, event *models.TransitionEvent) error {
	_, err := r.Route(ctx, event)
	return err
}

// Route 路由一次状态变更事件
// 业务规则：
// - 事件类型由 (kind, sub_type, from, to) 推导，可能产生多个类型
// - 每个目标独立投递（best-effort），失败记录在结果里不中断
// - 启用去重时，同一 (correlation_id, event_type, target) 只投递一次
func (r *NotificationRouter) Route(ctx context.Context, event *models.TransitionEvent) (*DispatchOutcome, error) {
	eventTypes := ResolveEventTypes(event)
	outcome := &DispatchOutcome{
		CorrelationID: event.CorrelationID,
		EventTypes:    eventTypes,
	}

	if len(eventTypes) == 0 {
		r.logger.Debug("No notification event for transition",
			zap.String("tenant_id", event.TenantID),
			zap.String("entity_kind", event.EntityKind),
			zap.String("to_state", event.ToState),
		)
		return outcome, nil
	}

	for _, eventType := range eventTypes {
		rule, ok := r.matrix.RuleFor(eventType)
		if !ok {
			r.logger.Warn("No routing rule for event type",
				zap.String("tenant_id", event.TenantID),
				zap.String("event_type", eventType),
			)
			continue
		}

		payload := r.buildPayload(eventType, event)
		for _, target := range rule.Targets() {
			outcome.Deliveries = append(outcome.Deliveries, r.deliver(ctx, event, eventType, target, payload))
		}
	}

	r.logger.Info("Notification routed",
		zap.String("tenant_id", event.TenantID),
		zap.String("entity_id", event.EntityID),
		zap.String("correlation_id", event.CorrelationID),
		zap.Strings("event_types", eventTypes),
		zap.Int("delivery_count", len(outcome.Deliveries)),
	)

	return outcome, nil
}

func (r *NotificationRouter) deliver(ctx context.Context, event *models.TransitionEvent, eventType string, target notifier.Target, payload notifier.Payload) Delivery {
	delivery := Delivery{EventType: eventType, Target: target}

	if r.dedupe != nil {
		key := fmt.Sprintf("%s%s:%s:%s:%s", r.dedupe.KeyPrefix, event.CorrelationID, eventType, target.Kind, target.Name)
		acquired, err := redisx.SetNXGuard(ctx, r.dedupe.Client, key, r.dedupe.TTL)
		if err != nil {
			// 去重不可用时照常投递，重复通知好过漏通知
			r.logger.Warn("Dedupe guard unavailable, delivering anyway",
				zap.String("key", key),
				zap.Error(err),
			)
		} else if !acquired {
			delivery.Status = DeliverySkipped
			return delivery
		}
	}

	// 每个通道独立投递，任一通道送达即算成功
	delivered := 0
	var channelErrs []string
	for _, n := range r.notifiers {
		if err := n.Send(ctx, event.TenantID, target, payload); err != nil {
			r.logger.Warn("Notification delivery failed",
				zap.String("tenant_id", event.TenantID),
				zap.String("event_type", eventType),
				zap.String("target_kind", target.Kind),
				zap.String("target_name", target.Name),
				zap.Error(err),
			)
			channelErrs = append(channelErrs, err.Error())
			continue
		}
		delivered++
	}

	delivery.Status = DeliveryDelivered
	delivery.Error = strings.Join(channelErrs, "; ")
	if len(channelErrs) > 0 && delivered == 0 {
		delivery.Status = DeliveryFailed
	}

	return delivery
}

func (r *NotificationRouter) buildPayload(eventType string, event *models.TransitionEvent) notifier.Payload {
	data := map[string]string{
		"entity_id":   event.EntityID,
		"entity_kind": event.EntityKind,
		"from_state":  event.FromState,
		"to_state":    event.ToState,
		"actor_role":  event.Actor.Role,
		"url":         fmt.Sprintf("%s/%s", strings.TrimSuffix(r.deepLinkBase, "/"), event.EntityID),
	}
	if event.RoomRef != nil {
		data["room_ref"] = *event.RoomRef
	}
	if event.Category != nil {
		data["category"] = *event.Category
	}
	if event.Priority != nil {
		data["priority"] = *event.Priority
	}
	if event.FromRoom != nil {
		data["from_room"] = *event.FromRoom
	}
	if event.ToRoom != nil {
		data["to_room"] = *event.ToRoom
	}

	body := fmt.Sprintf("%s: %s", event.EntityName, event.ToState)
	if event.SubType == models.SubTypeRelocation && event.FromRoom != nil && event.ToRoom != nil {
		body = fmt.Sprintf("%s moved from %s to %s", event.EntityName, *event.FromRoom, *event.ToRoom)
	}
	if event.Notes != nil && *event.Notes != "" {
		body = body + " - " + *event.Notes
	}

	return notifier.Payload{
		Title:         eventType,
		Body:          body,
		EventType:     eventType,
		CorrelationID: event.CorrelationID,
		Data:          data,
	}
}
