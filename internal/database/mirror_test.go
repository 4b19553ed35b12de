package database

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshkereda/CollectOfDevices/internal/store"
)

func TestMirrorStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mirror, err := NewMirrorWithPool(mock, "device_records")
	require.NoError(t, err)
	collectedAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	mirror.now = func() time.Time { return collectedAt }

	rec := store.Record{
		store.FieldTarget: "12345-06",
		store.FieldPage:   "3",
		"Заводской номер": "001",
	}
	mock.ExpectExec("INSERT INTO device_records").
		WithArgs("12345-06", "ALL", 3, RowHash(rec), pgxmock.AnyArg(), collectedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, mirror.Store(context.Background(), "12345-06", "ALL", rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorStoreConflictIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mirror, err := NewMirrorWithPool(mock, "device_records")
	require.NoError(t, err)

	rec := store.Record{store.FieldTarget: "12345-06", store.FieldPage: "1"}
	mock.ExpectExec("INSERT INTO device_records").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	assert.NoError(t, mirror.Store(context.Background(), "12345-06", "ALL", rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMirrorWithPoolRejectsBadTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewMirrorWithPool(mock, "device_records; DROP TABLE x")
	assert.Error(t, err)
}

func TestRowHashStableAcrossKeyOrder(t *testing.T) {
	a := store.Record{"x": "1", "y": "2", "z": "3"}
	b := store.Record{"z": "3", "x": "1", "y": "2"}
	assert.Equal(t, RowHash(a), RowHash(b))
}

func TestRowHashDistinguishesValues(t *testing.T) {
	a := store.Record{"x": "1", "y": "2"}
	b := store.Record{"x": "1", "y": "3"}
	c := store.Record{"x": "12", "y": ""}
	assert.NotEqual(t, RowHash(a), RowHash(b))
	assert.NotEqual(t, RowHash(a), RowHash(c))
}
