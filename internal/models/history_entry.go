package models

import (
	"time"
)

// HistoryEntry 审计流水（对应 history_entries 表）
// 每次被接受的状态变更恰好写入一条，correlation_id 唯一，写入后不可修改
type HistoryEntry struct {
	HistoryID     string    `json:"history_id" db:"history_id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	EntityKind    string    `json:"entity_kind" db:"entity_kind"`
	SubType       string    `json:"sub_type" db:"sub_type"`
	FromState     string    `json:"from_state" db:"from_state"`
	ToState       string    `json:"to_state" db:"to_state"`
	ActorID       string    `json:"actor_id" db:"actor_id"`
	ActorName     string    `json:"actor_name" db:"actor_name"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Notes         *string   `json:"notes,omitempty" db:"notes"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Event 还原为 TransitionEvent（通知重放等场景使用）
func (h *HistoryEntry) Event() *TransitionEvent {
	return &TransitionEvent{
		TenantID:      h.TenantID,
		EntityID:      h.EntityID,
		EntityKind:    h.EntityKind,
		SubType:       h.SubType,
		FromState:     h.FromState,
		ToState:       h.ToState,
		Actor:         Actor{ID: h.ActorID, Name: h.ActorName, Role: h.ActorRole},
		Timestamp:     h.OccurredAt,
		Notes:         h.Notes,
		CorrelationID: h.CorrelationID,
	}
}
