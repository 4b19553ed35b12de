package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagesToVisitIncompleteAndUnseenFirst(t *testing.T) {
	known := []int{1, 2, 3, 4}
	stats := map[int]int{1: 20, 2: 15, 3: 20}

	got := PagesToVisit(known, stats, 3, 20)
	assert.Equal(t, []int{2, 4}, got)
}

func TestPagesToVisitForwardContinuation(t *testing.T) {
	known := []int{1, 2, 3, 4, 5}
	stats := map[int]int{1: 20, 2: 20, 3: 20, 4: 20, 5: 20}

	got := PagesToVisit(known, stats, 3, 20)
	assert.Equal(t, []int{4, 5}, got)
}

func TestPagesToVisitFreshRunVisitsEverything(t *testing.T) {
	got := PagesToVisit([]int{1, 2, 3}, nil, 0, 20)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestPagesToVisitAllDone(t *testing.T) {
	known := []int{1, 2}
	stats := map[int]int{1: 20, 2: 20}

	got := PagesToVisit(known, stats, 2, 20)
	assert.Empty(t, got)
}

func TestPagesToVisitZeroCountIsIncomplete(t *testing.T) {
	known := []int{1, 2}
	stats := map[int]int{1: 0, 2: 20}

	got := PagesToVisit(known, stats, 2, 20)
	assert.Equal(t, []int{1}, got)
}

func TestPagesToVisitSortedAscending(t *testing.T) {
	known := []int{5, 1, 3, 2, 4}
	stats := map[int]int{2: 20, 4: 20}

	got := PagesToVisit(known, stats, 0, 20)
	assert.Equal(t, []int{1, 3, 5}, got)
}
