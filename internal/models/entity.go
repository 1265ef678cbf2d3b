package models

import (
	"encoding/json"
	"time"
)

// EntityKind 实体类型
const (
	KindRoom    = "room"                // 客房
	KindAsset   = "asset"               // 资产（家具、电器等）
	KindRequest = "maintenance_request" // 服务/维修请求
)

// Room 生命周期状态
const (
	RoomAvailable        = "available"         // 可入住
	RoomOccupied         = "occupied"          // 已入住
	RoomNeedCleaning     = "need_cleaning"     // 待清洁
	RoomCleaningOccupied = "cleaning_occupied" // 清洁中（在住房）
	RoomCleaningCheckout = "cleaning_checkout" // 清洁中（退房）
	RoomCleaningTouch    = "cleaning_touch"    // 简单整理
	RoomCleanOccupied    = "clean_occupied"    // 已清洁（在住房）
	RoomInspection       = "inspection"        // 待查房
	RoomMaintenance      = "maintenance"       // 维修中
)

// Asset 生命周期状态
const (
	AssetPending     = "pending"     // 待启用
	AssetActive      = "active"      // 使用中
	AssetMaintenance = "maintenance" // 维修中
	AssetRetired     = "retired"     // 已报废（终态）
)

// Request 生命周期状态
const (
	RequestPending    = "pending"     // 待处理
	RequestAssigned   = "assigned"    // 已指派
	RequestInProgress = "in_progress" // 处理中
	RequestCompleted  = "completed"   // 已完成（终态）
)

// Request 类别
const (
	CategoryMaintenance  = "maintenance"   // 维修请求
	CategoryTowel        = "towel"         // 毛巾/布草请求
	CategoryAmenity      = "amenity"       // 客用品请求
	CategoryDND          = "dnd"           // 勿扰
	CategoryGuestMessage = "guest_message" // 客人留言
)

// Request 优先级
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Entity 工作流实体（对应 entities 表）
// room / asset / maintenance_request 共用一张表，kind 区分，
// 类型特有字段为可空列
type Entity struct {
	EntityID   string  `json:"entity_id" db:"entity_id"`
	TenantID   string  `json:"tenant_id" db:"tenant_id"`
	Kind       string  `json:"kind" db:"kind"`
	State      string  `json:"state" db:"state"`
	Name       string  `json:"name" db:"name"`
	RoomRef    *string `json:"room_ref,omitempty" db:"room_ref"`       // asset 当前所在房间 / request 关联房间
	TargetID   *string `json:"target_id,omitempty" db:"target_id"`     // request 指向的 room/asset
	Category   *string `json:"category,omitempty" db:"category"`       // request 类别
	Priority   *string `json:"priority,omitempty" db:"priority"`       // request 优先级
	AssigneeID *string `json:"assignee_id,omitempty" db:"assignee_id"` // request 指派的员工
	PrevState  *string `json:"prev_state,omitempty" db:"prev_state"`   // 进入 maintenance 前的状态

	LastTransitionAt time.Time `json:"last_transition_at" db:"last_transition_at"`
	LastActorID      string    `json:"last_actor_id" db:"last_actor_id"`
	LastActorName    string    `json:"last_actor_name" db:"last_actor_name"`
	LastActorRole    string    `json:"last_actor_role" db:"last_actor_role"`

	Metadata  json.RawMessage `json:"metadata" db:"metadata"` // JSONB
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal 是否处于终态（终态没有任何出边）
func (e *Entity) IsTerminal() bool {
	switch e.Kind {
	case KindAsset:
		return e.State == AssetRetired
	case KindRequest:
		return e.State == RequestCompleted
	default:
		// Room 循环使用，没有终态
		return false
	}
}

// ValidStates 返回某一实体类型的合法状态集合
func ValidStates(kind string) []string {
	switch kind {
	case KindRoom:
		return []string{
			RoomAvailable, RoomOccupied, RoomNeedCleaning,
			RoomCleaningOccupied, RoomCleaningCheckout, RoomCleaningTouch,
			RoomCleanOccupied, RoomInspection, RoomMaintenance,
		}
	case KindAsset:
		return []string{AssetPending, AssetActive, AssetMaintenance, AssetRetired}
	case KindRequest:
		return []string{RequestPending, RequestAssigned, RequestInProgress, RequestCompleted}
	default:
		return nil
	}
}

// IsValidState 校验状态是否属于该实体类型
func IsValidState(kind, state string) bool {
	for _, s := range ValidStates(kind) {
		if s == state {
			return true
		}
	}
	return false
}
