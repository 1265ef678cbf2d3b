package ledger

import (
	"context"
	"testing"
	"time"

	"hotel-ops/internal/models"
	"hotel-ops/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupLedger(t *testing.T) (*AuditLedger, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return NewAuditLedger(store, zap.NewNop()), store
}

func testEvent(correlationID string) *models.TransitionEvent {
	return &models.TransitionEvent{
		TenantID:      "tenant-1",
		EntityID:      "room-1",
		EntityKind:    models.KindRoom,
		EntityName:    "101",
		SubType:       models.SubTypeStateChange,
		FromState:     models.RoomOccupied,
		ToState:       models.RoomNeedCleaning,
		Actor:         models.Actor{ID: "staff-1", Name: "Ana", Role: models.RoleHousekeeper},
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

func TestRecord_AppendsEntry(t *testing.T) {
	ledger, _ := setupLedger(t)

	correlationID := uuid.New().String()
	entry, err := ledger.Record(context.Background(), testEvent(correlationID))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.HistoryID)
	assert.Equal(t, correlationID, entry.CorrelationID)
	assert.Equal(t, models.RoomNeedCleaning, entry.ToState)
}

func TestRecord_IdempotentOnDuplicateCorrelation(t *testing.T) {
	ledger, _ := setupLedger(t)

	correlationID := uuid.New().String()
	first, err := ledger.Record(context.Background(), testEvent(correlationID))
	require.NoError(t, err)

	// 重放返回已有流水，不报错不重复
	second, err := ledger.Record(context.Background(), testEvent(correlationID))
	require.NoError(t, err)
	assert.Equal(t, first.HistoryID, second.HistoryID)

	entries, total, err := ledger.ListEntityHistory(context.Background(), "tenant-1", "room-1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, entries, 1)
}

func TestRecord_RequiresCorrelationID(t *testing.T) {
	ledger, _ := setupLedger(t)

	_, err := ledger.Record(context.Background(), testEvent(""))
	require.Error(t, err)
}

func TestFindByCorrelation_MissReturnsNil(t *testing.T) {
	ledger, _ := setupLedger(t)

	entry, err := ledger.FindByCorrelation(context.Background(), "tenant-1", uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestListEntityHistory_NewestFirstPaginated(t *testing.T) {
	ledger, _ := setupLedger(t)

	var last string
	for i := 0; i < 5; i++ {
		event := testEvent(uuid.New().String())
		event.Timestamp = time.Now().Add(time.Duration(i) * time.Minute)
		last = event.CorrelationID
		_, err := ledger.Record(context.Background(), event)
		require.NoError(t, err)
	}

	entries, total, err := ledger.ListEntityHistory(context.Background(), "tenant-1", "room-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, entries, 2)
	assert.Equal(t, last, entries[0].CorrelationID)

	// 第三页只剩一条
	entries, _, err = ledger.ListEntityHistory(context.Background(), "tenant-1", "room-1", 3, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
