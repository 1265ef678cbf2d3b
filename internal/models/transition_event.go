package models

import (
	"time"
)

// TransitionEvent 子类型
const (
	SubTypeStateChange = "state_change" // 普通状态变更
	SubTypeRelocation  = "relocation"   // 资产换房（状态不变）
	SubTypeCreated     = "created"      // 实体创建（fromState 为空）
)

// TransitionEvent 状态变更事件（内存中流转，不落库；落库的是 HistoryEntry）
// 只有实际写入成功的变更才会产生事件，FromState 一定等于写入时的旧状态
type TransitionEvent struct {
	TenantID      string    `json:"tenant_id"`
	EntityID      string    `json:"entity_id"`
	EntityKind    string    `json:"entity_kind"`
	EntityName    string    `json:"entity_name"`
	SubType       string    `json:"sub_type"`
	FromState     string    `json:"from_state"`
	ToState       string    `json:"to_state"`
	Actor         Actor     `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
	Notes         *string   `json:"notes,omitempty"`
	CorrelationID string    `json:"correlation_id"` // 幂等键，客户端提供

	// 路由与通知所需的上下文
	Category *string `json:"category,omitempty"` // request 类别
	Priority *string `json:"priority,omitempty"` // request 优先级
	RoomRef  *string `json:"room_ref,omitempty"` // 关联房间
	FromRoom *string `json:"from_room,omitempty"` // relocation 专用
	ToRoom   *string `json:"to_room,omitempty"`   // relocation 专用
}
