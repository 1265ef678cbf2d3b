package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hotel-ops/internal/models"
)

// MemoryStore in-memory EntityStore + HistoryStore.
// Supports unit tests and running without a DB (same fallback idea as the
// memory repos in the admin APIs). All writes go through one mutex, so
// ApplyTransition is naturally atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]map[string]*models.Entity      // tenantID -> entityID -> Entity
	history  map[string][]*models.HistoryEntry         // tenantID -> entries (append order)
	byCorr   map[string]map[string]*models.HistoryEntry // tenantID -> correlationID -> entry

	// AppendHook 非 nil 时在写审计流水前调用，返回错误则整个事务失败
	// （测试里用来模拟流水写失败）
	AppendHook func(entry *models.HistoryEntry) error
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]map[string]*models.Entity),
		history:  make(map[string][]*models.HistoryEntry),
		byCorr:   make(map[string]map[string]*models.HistoryEntry),
	}
}

func (s *MemoryStore) GetEntity(_ context.Context, tenantID, entityID string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[tenantID][entityID]
	if !ok {
		return nil, fmt.Errorf("%w: entity_id=%s, tenant_id=%s", ErrNotFound, entityID, tenantID)
	}
	clone := *entity
	return &clone, nil
}

func (s *MemoryStore) CreateEntity(_ context.Context, tenantID string, entity *models.Entity) error {
	if entity == nil {
		return fmt.Errorf("entity is required")
	}
	if entity.TenantID != tenantID {
		return fmt.Errorf("entity.tenant_id must match tenant_id parameter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entities[tenantID] == nil {
		s.entities[tenantID] = make(map[string]*models.Entity)
	}
	if _, exists := s.entities[tenantID][entity.EntityID]; exists {
		return fmt.Errorf("entity already exists: entity_id=%s", entity.EntityID)
	}
	clone := *entity
	s.entities[tenantID][entity.EntityID] = &clone
	return nil
}

func (s *MemoryStore) ListEntities(_ context.Context, tenantID, kind string) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*models.Entity
	for _, entity := range s.entities[tenantID] {
		if kind != "" && entity.Kind != kind {
			continue
		}
		clone := *entity
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *MemoryStore) FindOpenRequests(_ context.Context, tenantID, targetID string) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var requests []*models.Entity
	for _, entity := range s.entities[tenantID] {
		if entity.Kind != models.KindRequest {
			continue
		}
		if entity.TargetID == nil || *entity.TargetID != targetID {
			continue
		}
		if entity.State == models.RequestCompleted {
			continue
		}
		clone := *entity
		requests = append(requests, &clone)
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	return requests, nil
}

func (s *MemoryStore) ApplyTransition(_ context.Context, tenantID string, writes []StateWrite, entry *models.HistoryEntry) error {
	if len(writes) == 0 {
		return fmt.Errorf("writes cannot be empty")
	}
	if entry == nil {
		return fmt.Errorf("history entry is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 条件检查全部通过后再落任何写，保持原子性
	for _, w := range writes {
		entity, ok := s.entities[tenantID][w.EntityID]
		if !ok {
			return fmt.Errorf("%w: entity_id=%s", ErrNotFound, w.EntityID)
		}
		if entity.State != w.ExpectedState {
			return fmt.Errorf("%w: entity_id=%s, expected=%s, actual=%s",
				ErrConflict, w.EntityID, w.ExpectedState, entity.State)
		}
		if w.ExpectedRoomRef != nil {
			if entity.RoomRef == nil || *entity.RoomRef != *w.ExpectedRoomRef {
				return fmt.Errorf("%w: entity_id=%s, room_ref changed", ErrConflict, w.EntityID)
			}
		}
	}

	if s.byCorr[tenantID][entry.CorrelationID] != nil {
		return fmt.Errorf("%w: correlation_id=%s", ErrDuplicateCorrelation, entry.CorrelationID)
	}

	if s.AppendHook != nil {
		if err := s.AppendHook(entry); err != nil {
			return err
		}
	}

	for _, w := range writes {
		entity := s.entities[tenantID][w.EntityID]
		entity.State = w.NewState
		entity.LastTransitionAt = w.At
		entity.UpdatedAt = w.At
		entity.LastActorID = w.Actor.ID
		entity.LastActorName = w.Actor.Name
		entity.LastActorRole = w.Actor.Role
		if w.SetRoomRef != nil {
			ref := *w.SetRoomRef
			entity.RoomRef = &ref
		}
		if w.SetPrevState != nil {
			prev := *w.SetPrevState
			entity.PrevState = &prev
		} else if w.ClearPrevState {
			entity.PrevState = nil
		}
		if w.SetAssignee != nil {
			assignee := *w.SetAssignee
			entity.AssigneeID = &assignee
		}
	}

	clone := *entry
	s.history[tenantID] = append(s.history[tenantID], &clone)
	if s.byCorr[tenantID] == nil {
		s.byCorr[tenantID] = make(map[string]*models.HistoryEntry)
	}
	s.byCorr[tenantID][entry.CorrelationID] = &clone

	return nil
}

// ============================================
// HistoryStore
// ============================================

func (s *MemoryStore) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byCorr[entry.TenantID][entry.CorrelationID] != nil {
		return fmt.Errorf("%w: correlation_id=%s", ErrDuplicateCorrelation, entry.CorrelationID)
	}
	clone := *entry
	s.history[entry.TenantID] = append(s.history[entry.TenantID], &clone)
	if s.byCorr[entry.TenantID] == nil {
		s.byCorr[entry.TenantID] = make(map[string]*models.HistoryEntry)
	}
	s.byCorr[entry.TenantID][entry.CorrelationID] = &clone
	return nil
}

func (s *MemoryStore) GetHistoryByCorrelation(_ context.Context, tenantID, correlationID string) (*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byCorr[tenantID][correlationID]
	if !ok {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}

func (s *MemoryStore) ListEntityHistory(_ context.Context, tenantID, entityID string, page, size int) ([]*models.HistoryEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	var all []*models.HistoryEntry
	for _, entry := range s.history[tenantID] {
		if entry.EntityID != entityID {
			continue
		}
		clone := *entry
		all = append(all, &clone)
	}
	// 追加序的倒序即接受顺序的倒序
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	total := len(all)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}
