package router

import (
	"hotel-ops/internal/models"
)

// 通知事件类型
// 路由矩阵按事件类型决定投递目标，事件类型由 (kind, sub_type, from, to) 推导
const (
	EventRoomCreated             = "room.created"
	EventRoomCleaningRequested   = "room.cleaning_requested"
	EventRoomCleaningStarted     = "room.cleaning_started"
	EventRoomReady               = "room.ready"
	EventRoomInspectionRequested = "room.inspection_requested"
	EventRoomOccupied            = "room.occupied"
	EventRoomMaintenance         = "room.maintenance_requested"

	EventAssetCreated              = "asset.created"
	EventAssetActivated            = "asset.activated"
	EventAssetMaintenanceRequested = "asset.maintenance_requested"
	EventAssetMaintenanceCompleted = "asset.maintenance_completed"
	EventAssetRetired              = "asset.retired"
	EventAssetRelocated            = "asset.relocated"

	EventRequestAssigned   = "request.assigned"
	EventRequestInProgress = "request.in_progress"
	EventRequestCompleted  = "request.completed"

	// 创建请求按类别派生：request.maintenance / request.towel / ...
	eventRequestPrefix = "request."

	// 高优先级维修请求额外触发一次主管通知
	EventMaintenanceHighPriority = "maintenance.high_priority"
)

// ResolveEventTypes 将状态变更事件推导为通知事件类型
// 一次变更可能产生多个事件类型（如高优先级维修请求）
func ResolveEventTypes(event *models.TransitionEvent) []string {
	switch event.SubType {
	case models.SubTypeRelocation:
		return []string{EventAssetRelocated}
	case models.SubTypeCreated:
		return resolveCreated(event)
	case models.SubTypeStateChange:
		return resolveStateChange(event)
	default:
		return nil
	}
}

func resolveCreated(event *models.TransitionEvent) []string {
	switch event.EntityKind {
	case models.KindRoom:
		return []string{EventRoomCreated}
	case models.KindAsset:
		return []string{EventAssetCreated}
	case models.KindRequest:
		if event.Category == nil {
			return nil
		}
		return appendHighPriority(event, []string{eventRequestPrefix + *event.Category})
	default:
		return nil
	}
}

func resolveStateChange(event *models.TransitionEvent) []string {
	switch event.EntityKind {
	case models.KindRoom:
		switch event.ToState {
		case models.RoomNeedCleaning:
			return []string{EventRoomCleaningRequested}
		case models.RoomCleaningOccupied, models.RoomCleaningCheckout, models.RoomCleaningTouch:
			return []string{EventRoomCleaningStarted}
		case models.RoomCleanOccupied, models.RoomAvailable:
			return []string{EventRoomReady}
		case models.RoomInspection:
			return []string{EventRoomInspectionRequested}
		case models.RoomOccupied:
			return []string{EventRoomOccupied}
		case models.RoomMaintenance:
			return []string{EventRoomMaintenance}
		}
	case models.KindAsset:
		switch event.ToState {
		case models.AssetMaintenance:
			return []string{EventAssetMaintenanceRequested}
		case models.AssetActive:
			if event.FromState == models.AssetMaintenance {
				return []string{EventAssetMaintenanceCompleted}
			}
			return []string{EventAssetActivated}
		case models.AssetRetired:
			return []string{EventAssetRetired}
		}
	case models.KindRequest:
		switch event.ToState {
		case models.RequestAssigned:
			return appendHighPriority(event, []string{EventRequestAssigned})
		case models.RequestInProgress:
			return appendHighPriority(event, []string{EventRequestInProgress})
		case models.RequestCompleted:
			return appendHighPriority(event, []string{EventRequestCompleted})
		}
	}
	return nil
}

// appendHighPriority 高优先级维修请求全生命周期都额外通知主管
func appendHighPriority(event *models.TransitionEvent, types []string) []string {
	if event.Category != nil && *event.Category == models.CategoryMaintenance &&
		event.Priority != nil && *event.Priority == models.PriorityHigh {
		return append(types, EventMaintenanceHighPriority)
	}
	return types
}
