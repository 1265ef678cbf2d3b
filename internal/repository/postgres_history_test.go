package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"hotel-ops/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockHistoryDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresHistoryRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewPostgresHistoryRepo(db, logger)

	return db, mock, repo
}

func testEntry() *models.HistoryEntry {
	return &models.HistoryEntry{
		HistoryID:     uuid.New().String(),
		TenantID:      "tenant-1",
		EntityID:      "room-1",
		EntityKind:    models.KindRoom,
		SubType:       models.SubTypeStateChange,
		FromState:     models.RoomOccupied,
		ToState:       models.RoomNeedCleaning,
		ActorID:       "staff-1",
		ActorName:     "Ana",
		ActorRole:     models.RoleHousekeeper,
		CorrelationID: uuid.New().String(),
		OccurredAt:    time.Now(),
		CreatedAt:     time.Now(),
	}
}

func TestAppendHistory_Success(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO history_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AppendHistory(context.Background(), testEntry()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendHistory_DuplicateCorrelation(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO history_entries`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AppendHistory(context.Background(), testEntry())
	require.ErrorIs(t, err, ErrDuplicateCorrelation)
}

func TestGetHistoryByCorrelation_MissReturnsNil(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WillReturnError(sql.ErrNoRows)

	entry, err := repo.GetHistoryByCorrelation(context.Background(), "tenant-1", uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetHistoryByCorrelation_Found(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	correlationID := uuid.New().String()
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"history_id", "tenant_id", "entity_id", "entity_kind", "sub_type",
		"from_state", "to_state", "actor_id", "actor_name", "actor_role",
		"notes", "correlation_id", "occurred_at", "created_at",
	}).AddRow(
		uuid.New().String(), "tenant-1", "room-1", models.KindRoom, models.SubTypeStateChange,
		models.RoomOccupied, models.RoomNeedCleaning, "staff-1", "Ana", models.RoleHousekeeper,
		nil, correlationID, now, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("tenant-1", correlationID).
		WillReturnRows(rows)

	entry, err := repo.GetHistoryByCorrelation(context.Background(), "tenant-1", correlationID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, correlationID, entry.CorrelationID)
	assert.Nil(t, entry.Notes)
}

func TestListEntityHistory_Paginates(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("tenant-1", "room-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"history_id", "tenant_id", "entity_id", "entity_kind", "sub_type",
		"from_state", "to_state", "actor_id", "actor_name", "actor_role",
		"notes", "correlation_id", "occurred_at", "created_at",
	}).AddRow(
		uuid.New().String(), "tenant-1", "room-1", models.KindRoom, models.SubTypeStateChange,
		models.RoomOccupied, models.RoomNeedCleaning, "staff-1", "Ana", models.RoleHousekeeper,
		"guest request", uuid.New().String(), now, now,
	)
	mock.ExpectQuery(`SELECT`).
		WithArgs("tenant-1", "room-1", 20, 20).
		WillReturnRows(rows)

	entries, total, err := repo.ListEntityHistory(context.Background(), "tenant-1", "room-1", 2, 20)
	require.NoError(t, err)
	assert.Equal(t, 42, total)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Notes)
	assert.Equal(t, "guest request", *entries[0].Notes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// size 超上限被钳到 100
func TestListEntityHistory_ClampsSize(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT`).
		WithArgs("tenant-1", "room-1", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"history_id", "tenant_id", "entity_id", "entity_kind", "sub_type",
			"from_state", "to_state", "actor_id", "actor_name", "actor_role",
			"notes", "correlation_id", "occurred_at", "created_at",
		}))

	_, total, err := repo.ListEntityHistory(context.Background(), "tenant-1", "room-1", 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
