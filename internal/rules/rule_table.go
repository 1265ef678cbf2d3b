package rules

import (
	"sort"

	"hotel-ops/internal/models"
)

// TransitionRuleTable 状态转换规则表
// (kind, role, fromState) → 允许的目标状态集合
// 进程启动时构建一次，运行期只读，无需加锁
type TransitionRuleTable struct {
	// kind → role → from → to 列表
	edges map[string]map[string]map[string][]string
	// kind → toState → 是否要求备注非空
	requiresNotes map[string]map[string]bool
}

// NewDefaultRuleTable 构建酒店域的默认规则表
//
// 客房（room）循环使用：
//   available/occupied → need_cleaning → cleaning_* → clean_occupied/inspection → available
//   任意非 maintenance 状态 → maintenance（任何角色，备注必填）
// 资产（asset）：
//   pending → active；maintenance/retired 不走通用转换，
//   由 SendToMaintenance / CompleteMaintenance / Retire 专用操作处理
// 请求（maintenance_request）：
//   pending → assigned/in_progress → completed，单向不可回退
func NewDefaultRuleTable() *TransitionRuleTable {
	t := &TransitionRuleTable{
		edges:         make(map[string]map[string]map[string][]string),
		requiresNotes: make(map[string]map[string]bool),
	}

	// ============================================
	// Room
	// ============================================
	housekeeperRoom := map[string][]string{
		models.RoomAvailable:       {models.RoomNeedCleaning},
		models.RoomOccupied:        {models.RoomNeedCleaning},
		models.RoomNeedCleaning:    {models.RoomCleaningOccupied, models.RoomCleaningCheckout, models.RoomCleaningTouch},
		models.RoomCleaningOccupied: {models.RoomCleanOccupied},
		models.RoomCleaningTouch:   {models.RoomCleanOccupied, models.RoomInspection},
		models.RoomCleaningCheckout: {models.RoomInspection},
		models.RoomInspection:      {models.RoomAvailable},
		models.RoomCleanOccupied:   {models.RoomOccupied},
	}
	receptionRoom := map[string][]string{
		models.RoomAvailable:     {models.RoomOccupied},
		models.RoomOccupied:      {models.RoomNeedCleaning},
		models.RoomCleanOccupied: {models.RoomOccupied},
		models.RoomInspection:    {models.RoomAvailable},
	}
	frontRoom := map[string][]string{
		models.RoomOccupied: {models.RoomNeedCleaning},
	}
	managerRoom := mergeEdges(housekeeperRoom, receptionRoom)

	t.setEdges(models.KindRoom, models.RoleHousekeeper, housekeeperRoom)
	t.setEdges(models.KindRoom, models.RoleReception, receptionRoom)
	t.setEdges(models.KindRoom, models.RoleFront, frontRoom)
	t.setEdges(models.KindRoom, models.RoleManager, managerRoom)
	t.setEdges(models.KindRoom, models.RoleAdmin, managerRoom)
	t.setEdges(models.KindRoom, models.RoleSuperAdmin, managerRoom)

	// ============================================
	// Asset
	// ============================================
	assetAdmin := map[string][]string{
		models.AssetPending: {models.AssetActive},
	}
	t.setEdges(models.KindAsset, models.RoleManager, assetAdmin)
	t.setEdges(models.KindAsset, models.RoleAdmin, assetAdmin)
	t.setEdges(models.KindAsset, models.RoleSuperAdmin, assetAdmin)

	// ============================================
	// MaintenanceRequest
	// ============================================
	requestEdges := map[string][]string{
		models.RequestPending:    {models.RequestAssigned, models.RequestInProgress},
		models.RequestAssigned:   {models.RequestInProgress, models.RequestCompleted},
		models.RequestInProgress: {models.RequestCompleted},
	}
	for _, role := range []string{
		models.RoleMaintenance, models.RoleHousekeeper, models.RoleFront,
		models.RoleManager, models.RoleAdmin, models.RoleSuperAdmin,
	} {
		t.setEdges(models.KindRequest, role, requestEdges)
	}

	// 备注必填的目标状态
	t.setRequiresNotes(models.KindRoom, models.RoomMaintenance)
	t.setRequiresNotes(models.KindAsset, models.AssetMaintenance)
	t.setRequiresNotes(models.KindAsset, models.AssetRetired)

	return t
}

func (t *TransitionRuleTable) setEdges(kind, role string, edges map[string][]string) {
	if t.edges[kind] == nil {
		t.edges[kind] = make(map[string]map[string][]string)
	}
	t.edges[kind][role] = edges
}

func (t *TransitionRuleTable) setRequiresNotes(kind, toState string) {
	if t.requiresNotes[kind] == nil {
		t.requiresNotes[kind] = make(map[string]bool)
	}
	t.requiresNotes[kind][toState] = true
}

// AllowedTargets 查询某角色在当前状态下允许的目标状态
// 查不到的组合返回空集（"没有可用转换"，不是错误）
func (t *TransitionRuleTable) AllowedTargets(kind, role, from string) []string {
	var targets []string
	if byRole, ok := t.edges[kind]; ok {
		if edges, ok := byRole[role]; ok {
			targets = append(targets, edges[from]...)
		}
	}

	// 横切规则：room 可由任何已知角色从任意非 maintenance 状态送修
	if kind == models.KindRoom && from != models.RoomMaintenance && models.IsKnownRole(role) {
		if !contains(targets, models.RoomMaintenance) {
			targets = append(targets, models.RoomMaintenance)
		}
	}

	return targets
}

// IsAllowed 判断一次转换是否合法
func (t *TransitionRuleTable) IsAllowed(kind, role, from, to string) bool {
	return contains(t.AllowedTargets(kind, role, from), to)
}

// RequiresNotes 目标状态是否要求备注非空
func (t *TransitionRuleTable) RequiresNotes(kind, toState string) bool {
	return t.requiresNotes[kind][toState]
}

// ReachableTargets 枚举某一实体类型全部可达的目标状态
// （含通用规则表的出边和专用操作的目标，用于通知路由覆盖检查）
func (t *TransitionRuleTable) ReachableTargets(kind string) []string {
	set := make(map[string]bool)
	for _, byRole := range []map[string]map[string][]string{t.edges[kind]} {
		for _, edges := range byRole {
			for _, targets := range edges {
				for _, to := range targets {
					set[to] = true
				}
			}
		}
	}

	switch kind {
	case models.KindRoom:
		set[models.RoomMaintenance] = true // 横切送修规则
	case models.KindAsset:
		// 专用操作：SendToMaintenance / CompleteMaintenance / Retire
		set[models.AssetMaintenance] = true
		set[models.AssetActive] = true
		set[models.AssetRetired] = true
	case models.KindRequest:
		// 创建时的初始状态（带指派人时直接进入 assigned）
		set[models.RequestPending] = true
		set[models.RequestAssigned] = true
	}

	targets := make([]string, 0, len(set))
	for to := range set {
		targets = append(targets, to)
	}
	sort.Strings(targets)
	return targets
}

func mergeEdges(tables ...map[string][]string) map[string][]string {
	merged := make(map[string][]string)
	for _, table := range tables {
		for from, targets := range table {
			for _, to := range targets {
				if !contains(merged[from], to) {
					merged[from] = append(merged[from], to)
				}
			}
		}
	}
	return merged
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
