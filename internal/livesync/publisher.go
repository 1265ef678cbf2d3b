package livesync

import (
	"context"
	"fmt"

	"hotel-ops/internal/models"
	"hotel-ops/internal/redisx"

	"go.uber.org/zap"
)

// EntitySnapshot 实体快照消息（前台实时看板消费）
type EntitySnapshot struct {
	TenantID      string  `json:"tenant_id"`
	EntityID      string  `json:"entity_id"`
	Kind          string  `json:"kind"`
	Name          string  `json:"name"`
	State         string  `json:"state"`
	RoomRef       *string `json:"room_ref,omitempty"`
	SubType       string  `json:"sub_type"`
	FromState     string  `json:"from_state"`
	ActorRole     string  `json:"actor_role"`
	CorrelationID string  `json:"correlation_id"`
	Timestamp     int64   `json:"timestamp"`

	// StreamID 消息在流中的 ID（ms-seq），消费时由 Watcher 填入，
	// 看板用它在同一秒内的快照之间排序
	StreamID string `json:"-"`
}

// Publisher 实体快照发布器
// 每次状态变更后把最新快照写入 Redis Stream，供看板消费者增量同步
type Publisher struct {
	client *redisx.Client
	stream string
	logger *zap.Logger
}

// NewPublisher 创建快照发布器
func NewPublisher(client *redisx.Client, stream string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// HandleTransition 实现状态机的事件接收接口
func (p *Publisher) HandleTransition(ctx context.Context, event *models.TransitionEvent) error {
	snapshot := EntitySnapshot{
		TenantID:      event.TenantID,
		EntityID:      event.EntityID,
		Kind:          event.EntityKind,
		Name:          event.EntityName,
		State:         event.ToState,
		SubType:       event.SubType,
		FromState:     event.FromState,
		ActorRole:     event.Actor.Role,
		CorrelationID: event.CorrelationID,
		Timestamp:     event.Timestamp.Unix(),
	}

	// 换房事件快照带上最新房间
	if event.ToRoom != nil {
		snapshot.RoomRef = event.ToRoom
	} else if event.RoomRef != nil {
		snapshot.RoomRef = event.RoomRef
	}

	id, err := redisx.PublishJSONToStream(ctx, p.client, p.stream, snapshot)
	if err != nil {
		return fmt.Errorf("failed to publish entity snapshot: %w", err)
	}

	p.logger.Debug("Entity snapshot published",
		zap.String("tenant_id", event.TenantID),
		zap.String("entity_id", event.EntityID),
		zap.String("stream", p.stream),
		zap.String("message_id", id),
	)

	return nil
}
