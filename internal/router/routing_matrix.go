package router

import (
	"hotel-ops/internal/models"
	"hotel-ops/internal/notifier"
)

// RoutingRule 路由规则：事件类型 -> 投递目标集合
type RoutingRule struct {
	EventType    string
	TargetRoles  []string // 按角色投递
	TargetTopics []string // 按主题投递（跨角色订阅）
}

// RoutingMatrix 路由矩阵
type RoutingMatrix struct {
	rules map[string]RoutingRule
}

// NewRoutingMatrix 从规则集构建路由矩阵
func NewRoutingMatrix(rules []RoutingRule) *RoutingMatrix {
	m := &RoutingMatrix{rules: make(map[string]RoutingRule, len(rules))}
	for _, r := range rules {
		m.rules[r.EventType] = r
	}
	return m
}

// DefaultRoutingMatrix 默认路由矩阵
// 业务规则：
// - 清洁类事件通知客房部和前台
// - 客人服务请求（毛巾/客用品）额外通知礼宾
// - 维修类事件通知维修部和值班经理
// - 高优先级维修请求单独再通知维修主管主题
func DefaultRoutingMatrix() *RoutingMatrix {
	return NewRoutingMatrix([]RoutingRule{
		// 客房
		{EventType: EventRoomCreated, TargetRoles: []string{models.RoleManager}},
		{EventType: EventRoomCleaningRequested, TargetRoles: []string{models.RoleHousekeeper, models.RoleReception}},
		{EventType: EventRoomCleaningStarted, TargetRoles: []string{models.RoleReception}},
		{EventType: EventRoomReady, TargetRoles: []string{models.RoleReception, models.RoleHousekeeper}},
		{EventType: EventRoomInspectionRequested, TargetRoles: []string{models.RoleHousekeeper, models.RoleManager}},
		{EventType: EventRoomOccupied, TargetRoles: []string{models.RoleReception}},
		{EventType: EventRoomMaintenance, TargetRoles: []string{models.RoleMaintenance, models.RoleManager}},

		// 资产
		{EventType: EventAssetCreated, TargetRoles: []string{models.RoleManager}},
		{EventType: EventAssetActivated, TargetRoles: []string{models.RoleManager}},
		{EventType: EventAssetMaintenanceRequested, TargetRoles: []string{models.RoleMaintenance, models.RoleManager}},
		{EventType: EventAssetMaintenanceCompleted, TargetRoles: []string{models.RoleManager, models.RoleReception}},
		{EventType: EventAssetRetired, TargetRoles: []string{models.RoleManager, models.RoleAdmin}},
		{EventType: EventAssetRelocated, TargetRoles: []string{models.RoleReception}, TargetTopics: []string{"inventory"}},

		// 服务/维修请求（创建时按类别路由）
		{EventType: eventRequestPrefix + models.CategoryMaintenance, TargetRoles: []string{models.RoleMaintenance, models.RoleManager}},
		{EventType: eventRequestPrefix + models.CategoryTowel, TargetRoles: []string{models.RoleFront, models.RoleHousekeeper, models.RoleReception}},
		{EventType: eventRequestPrefix + models.CategoryAmenity, TargetRoles: []string{models.RoleFront, models.RoleHousekeeper, models.RoleReception}},
		{EventType: eventRequestPrefix + models.CategoryDND, TargetRoles: []string{models.RoleHousekeeper, models.RoleReception}},
		{EventType: eventRequestPrefix + models.CategoryGuestMessage, TargetRoles: []string{models.RoleFront, models.RoleReception}},
		{EventType: EventMaintenanceHighPriority, TargetRoles: []string{models.RoleManager}, TargetTopics: []string{"maintenance-supervisors"}},

		// 请求生命周期
		{EventType: EventRequestAssigned, TargetTopics: []string{"assignments"}},
		{EventType: EventRequestInProgress, TargetRoles: []string{models.RoleManager}},
		{EventType: EventRequestCompleted, TargetRoles: []string{models.RoleReception, models.RoleManager}},
	})
}

// RuleFor 查找事件类型对应的路由规则
func (m *RoutingMatrix) RuleFor(eventType string) (RoutingRule, bool) {
	rule, ok := m.rules[eventType]
	return rule, ok
}

// HasRule 事件类型是否有路由规则
func (m *RoutingMatrix) HasRule(eventType string) bool {
	_, ok := m.rules[eventType]
	return ok
}

// Targets 展开规则的全部投递目标
func (r RoutingRule) Targets() []notifier.Target {
	targets := make([]notifier.Target, 0, len(r.TargetRoles)+len(r.TargetTopics))
	for _, role := range r.TargetRoles {
		targets = append(targets, notifier.Target{Kind: notifier.TargetRole, Name: role})
	}
	for _, topic := range r.TargetTopics {
		targets = append(targets, notifier.Target{Kind: notifier.TargetTopic, Name: topic})
	}
	return targets
}
