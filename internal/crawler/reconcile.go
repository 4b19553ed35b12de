package crawler

import "github.com/dshkereda/CollectOfDevices/internal/store"

// CleanIncompletePages drops every record belonging to a non-final page that
// holds fewer than expected records. A short page below the max page number
// means a prior run was interrupted mid-page; partial pages cannot be resumed
// at the sub-page level, so the whole page is redone. The max page is kept
// regardless of size since the final page may legitimately be short.
//
// Record order is preserved, and re-running over an already-clean set is a
// no-op.
func CleanIncompletePages(records []store.Record, expected int) []store.Record {
	if len(records) == 0 {
		return records
	}

	counts := make(map[int]int)
	maxPage := 0
	for _, rec := range records {
		page, ok := rec.Page()
		if !ok {
			continue
		}
		counts[page]++
		if page > maxPage {
			maxPage = page
		}
	}
	if len(counts) == 0 {
		return records
	}

	cleaned := make([]store.Record, 0, len(records))
	for _, rec := range records {
		page, ok := rec.Page()
		if !ok {
			continue
		}
		if page < maxPage && counts[page] < expected {
			continue
		}
		cleaned = append(cleaned, rec)
	}
	return cleaned
}
