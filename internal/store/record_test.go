package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenRecordStoreMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Zero(t, s.Len())
	assert.Empty(t, s.Fields())
}

func TestRecordStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.Append(Record{
		FieldTarget:       "12345-06",
		FieldPage:         "1",
		"Заводской номер": "001",
		"Дата поверки":    "15.03.2024",
	}))
	require.NoError(t, s.Append(Record{
		FieldTarget:       "12345-06",
		FieldPage:         "1",
		"Заводской номер": "002",
	}))
	require.NoError(t, s.Close())

	reopened, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 2, reopened.Len())
	recs := reopened.Records()
	assert.Equal(t, "001", recs[0]["Заводской номер"])
	assert.Equal(t, "15.03.2024", recs[0]["Дата поверки"])
	assert.Equal(t, "002", recs[1]["Заводской номер"])
	// Absent fields come back as empty cells.
	assert.Equal(t, "", recs[1]["Дата поверки"])
	page, ok := recs[1].Page()
	assert.True(t, ok)
	assert.Equal(t, 1, page)
}

func TestRecordStoreGrowsColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(Record{FieldTarget: "12345-06", FieldPage: "1", "А": "1"}))
	require.NoError(t, s.Append(Record{FieldTarget: "12345-06", FieldPage: "1", "Б": "2"}))

	fields := s.Fields()
	assert.Contains(t, fields, "А")
	assert.Contains(t, fields, "Б")

	// Earlier rows gain the new column as an empty cell on rewrite.
	reopened, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 2, reopened.Len())
	assert.Equal(t, "", reopened.Records()[0]["Б"])
	assert.Equal(t, "2", reopened.Records()[1]["Б"])
}

func TestRecordStoreColumnOrderDeterministic(t *testing.T) {
	rec := Record{
		FieldTarget: "12345-06",
		FieldPage:   "1",
		"Г":         "3",
		"А":         "1",
		"Б":         "2",
	}
	want := []string{FieldPage, FieldTarget, "А", "Б", "Г"}

	// Fields first seen together land in sorted order, every run.
	for i := 0; i < 3; i++ {
		s, err := OpenRecordStore(filepath.Join(t.TempDir(), "out.csv"), "12345-06", zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, s.Append(rec))
		assert.Equal(t, want, s.Fields())
		require.NoError(t, s.Close())
	}
}

func TestRecordStoreColumnsKeepFirstSeenOrder(t *testing.T) {
	s, err := OpenRecordStore(filepath.Join(t.TempDir(), "out.csv"), "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(Record{FieldTarget: "12345-06", FieldPage: "1", "Г": "1"}))
	require.NoError(t, s.Append(Record{FieldTarget: "12345-06", FieldPage: "1", "А": "2"}))

	// A later-discovered field goes after the existing columns even when it
	// sorts before them.
	assert.Equal(t, []string{FieldPage, FieldTarget, "Г", "А"}, s.Fields())
}

func TestRecordStoreFiltersOtherTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Append(Record{FieldTarget: "12345-06", FieldPage: "1", "Номер": "a"}))
	require.NoError(t, s.Append(Record{FieldTarget: "99999-01", FieldPage: "1", "Номер": "b"}))
	require.NoError(t, s.Close())

	reopened, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 1, reopened.Len())
	assert.Equal(t, "a", reopened.Records()[0]["Номер"])
}

func TestRecordStoreMalformedFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("\"unterminated\nnot,a,csv"), 0o600))

	s, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	assert.Zero(t, s.Len())
}

func TestRecordStoreStripsBOMHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("\uFEFFrn,page,Номер\n12345-06,1,a\n"), 0o600))

	s, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "12345-06", s.Records()[0][FieldTarget])
}

func TestRecordStoreReplaceAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Append(Record{FieldTarget: "12345-06", FieldPage: "1", "Номер": "a"}))
	require.NoError(t, s.Append(Record{FieldTarget: "12345-06", FieldPage: "2", "Номер": "b"}))

	require.NoError(t, s.ReplaceAll(s.Records()[:1]))
	require.NoError(t, s.Close())

	reopened, err := OpenRecordStore(path, "12345-06", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 1, reopened.Len())
	assert.Equal(t, "a", reopened.Records()[0]["Номер"])
}

func TestRecordPage(t *testing.T) {
	page, ok := Record{FieldPage: "7"}.Page()
	assert.True(t, ok)
	assert.Equal(t, 7, page)

	_, ok = Record{FieldPage: "x"}.Page()
	assert.False(t, ok)

	_, ok = Record{}.Page()
	assert.False(t, ok)
}
