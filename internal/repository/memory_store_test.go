package repository

import (
	"context"
	"testing"
	"time"

	"hotel-ops/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memEntity(tenantID, kind, state string) *models.Entity {
	now := time.Now()
	return &models.Entity{
		EntityID:  uuid.New().String(),
		TenantID:  tenantID,
		Kind:      kind,
		State:     state,
		Name:      "101",
		Metadata:  []byte("{}"),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	entity := memEntity("tenant-1", models.KindRoom, models.RoomAvailable)

	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", entity))

	got, err := store.GetEntity(context.Background(), "tenant-1", entity.EntityID)
	require.NoError(t, err)
	assert.Equal(t, entity.EntityID, got.EntityID)

	// 租户隔离
	_, err = store.GetEntity(context.Background(), "tenant-2", entity.EntityID)
	require.ErrorIs(t, err, ErrNotFound)

	// 重复创建被拒绝
	require.Error(t, store.CreateEntity(context.Background(), "tenant-1", entity))
}

func TestMemoryStore_ApplyTransition_Conflict(t *testing.T) {
	store := NewMemoryStore()
	entity := memEntity("tenant-1", models.KindRoom, models.RoomOccupied)
	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", entity))

	write := StateWrite{
		EntityID:      entity.EntityID,
		ExpectedState: models.RoomAvailable, // 与实际状态不符
		NewState:      models.RoomNeedCleaning,
		At:            time.Now(),
	}
	entry := &models.HistoryEntry{
		TenantID:      "tenant-1",
		EntityID:      entity.EntityID,
		CorrelationID: uuid.New().String(),
	}

	err := store.ApplyTransition(context.Background(), "tenant-1", []StateWrite{write}, entry)
	require.ErrorIs(t, err, ErrConflict)

	// 冲突时不落任何写
	got, err := store.GetEntity(context.Background(), "tenant-1", entity.EntityID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomOccupied, got.State)
	_, total, err := store.ListEntityHistory(context.Background(), "tenant-1", entity.EntityID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestMemoryStore_ApplyTransition_MultiWriteAtomic(t *testing.T) {
	store := NewMemoryStore()
	asset := memEntity("tenant-1", models.KindAsset, models.AssetMaintenance)
	request := memEntity("tenant-1", models.KindRequest, models.RequestInProgress)
	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", asset))
	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", request))

	// 第二条写的前置条件不满足，第一条也不能生效
	writes := []StateWrite{
		{EntityID: asset.EntityID, ExpectedState: models.AssetMaintenance, NewState: models.AssetActive, At: time.Now()},
		{EntityID: request.EntityID, ExpectedState: models.RequestPending, NewState: models.RequestCompleted, At: time.Now()},
	}
	entry := &models.HistoryEntry{TenantID: "tenant-1", EntityID: asset.EntityID, CorrelationID: uuid.New().String()}

	err := store.ApplyTransition(context.Background(), "tenant-1", writes, entry)
	require.ErrorIs(t, err, ErrConflict)

	got, err := store.GetEntity(context.Background(), "tenant-1", asset.EntityID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetMaintenance, got.State)
}

func TestMemoryStore_ApplyTransition_DuplicateCorrelation(t *testing.T) {
	store := NewMemoryStore()
	entity := memEntity("tenant-1", models.KindRoom, models.RoomAvailable)
	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", entity))

	correlationID := uuid.New().String()
	write := StateWrite{
		EntityID:      entity.EntityID,
		ExpectedState: models.RoomAvailable,
		NewState:      models.RoomNeedCleaning,
		At:            time.Now(),
	}
	entry := &models.HistoryEntry{TenantID: "tenant-1", EntityID: entity.EntityID, CorrelationID: correlationID}

	require.NoError(t, store.ApplyTransition(context.Background(), "tenant-1", []StateWrite{write}, entry))

	// 同一 correlation_id 再写报重复
	again := StateWrite{
		EntityID:      entity.EntityID,
		ExpectedState: models.RoomNeedCleaning,
		NewState:      models.RoomCleaningCheckout,
		At:            time.Now(),
	}
	err := store.ApplyTransition(context.Background(), "tenant-1", []StateWrite{again},
		&models.HistoryEntry{TenantID: "tenant-1", EntityID: entity.EntityID, CorrelationID: correlationID})
	require.ErrorIs(t, err, ErrDuplicateCorrelation)
}

func TestMemoryStore_FindOpenRequests_NewestFirst(t *testing.T) {
	store := NewMemoryStore()
	targetID := uuid.New().String()

	older := memEntity("tenant-1", models.KindRequest, models.RequestPending)
	older.TargetID = &targetID
	older.CreatedAt = time.Now().Add(-time.Hour)

	newer := memEntity("tenant-1", models.KindRequest, models.RequestAssigned)
	newer.TargetID = &targetID

	done := memEntity("tenant-1", models.KindRequest, models.RequestCompleted)
	done.TargetID = &targetID

	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", older))
	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", newer))
	require.NoError(t, store.CreateEntity(context.Background(), "tenant-1", done))

	open, err := store.FindOpenRequests(context.Background(), "tenant-1", targetID)
	require.NoError(t, err)
	require.Len(t, open, 2) // completed 被排除
	assert.Equal(t, newer.EntityID, open[0].EntityID)
}
