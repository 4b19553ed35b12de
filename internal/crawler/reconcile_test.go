package crawler

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshkereda/CollectOfDevices/internal/store"
)

func pageRecords(page, n int) []store.Record {
	recs := make([]store.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, store.Record{
			store.FieldTarget: "12345-06",
			store.FieldPage:   strconv.Itoa(page),
			"Номер":           strconv.Itoa(page*100 + i),
		})
	}
	return recs
}

func TestCleanIncompletePagesDropsShortNonFinalPage(t *testing.T) {
	var recs []store.Record
	recs = append(recs, pageRecords(1, 20)...)
	recs = append(recs, pageRecords(2, 19)...) // interrupted mid-page
	recs = append(recs, pageRecords(3, 20)...)

	cleaned := CleanIncompletePages(recs, 20)
	assert.Len(t, cleaned, 40)
	for _, rec := range cleaned {
		page, ok := rec.Page()
		assert.True(t, ok)
		assert.NotEqual(t, 2, page)
	}
}

func TestCleanIncompletePagesKeepsShortFinalPage(t *testing.T) {
	var recs []store.Record
	recs = append(recs, pageRecords(1, 20)...)
	recs = append(recs, pageRecords(2, 7)...) // legitimately short last page

	cleaned := CleanIncompletePages(recs, 20)
	assert.Len(t, cleaned, 27)
}

func TestCleanIncompletePagesPreservesOrder(t *testing.T) {
	var recs []store.Record
	recs = append(recs, pageRecords(1, 20)...)
	recs = append(recs, pageRecords(2, 5)...)
	recs = append(recs, pageRecords(3, 20)...)

	cleaned := CleanIncompletePages(recs, 20)
	prev := 0
	for _, rec := range cleaned {
		page, _ := rec.Page()
		assert.GreaterOrEqual(t, page, prev)
		prev = page
	}
}

func TestCleanIncompletePagesIdempotent(t *testing.T) {
	var recs []store.Record
	recs = append(recs, pageRecords(1, 20)...)
	recs = append(recs, pageRecords(2, 3)...)
	recs = append(recs, pageRecords(3, 20)...)

	once := CleanIncompletePages(recs, 20)
	twice := CleanIncompletePages(once, 20)
	assert.Equal(t, once, twice)
}

func TestCleanIncompletePagesEmptyInput(t *testing.T) {
	assert.Empty(t, CleanIncompletePages(nil, 20))
}

func TestCleanIncompletePagesAllPagesComplete(t *testing.T) {
	var recs []store.Record
	recs = append(recs, pageRecords(1, 20)...)
	recs = append(recs, pageRecords(2, 20)...)

	cleaned := CleanIncompletePages(recs, 20)
	assert.Len(t, cleaned, 40)
}

func TestCleanIncompletePagesDropsUnparsablePages(t *testing.T) {
	recs := []store.Record{
		{store.FieldPage: "1", "Номер": "a"},
		{store.FieldPage: "what", "Номер": "b"},
		{"Номер": "c"},
	}
	cleaned := CleanIncompletePages(recs, 20)
	assert.Len(t, cleaned, 1)
	page, ok := cleaned[0].Page()
	assert.True(t, ok)
	assert.Equal(t, 1, page)
}

func TestCleanIncompletePagesNoParsablePagesLeftAlone(t *testing.T) {
	recs := []store.Record{
		{store.FieldPage: "", "Номер": "a"},
		{"Номер": "b"},
	}
	cleaned := CleanIncompletePages(recs, 20)
	assert.Equal(t, recs, cleaned)
}
