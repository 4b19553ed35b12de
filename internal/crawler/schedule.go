package crawler

import "sort"

// PagesToVisit decides which pages still need fetching for one partition.
// Incomplete pages (known count below expected) and never-seen pages are
// revisited first; when neither exists the schedule falls back to forward
// continuation from lastPage+1. The result is ascending and deduplicated.
func PagesToVisit(known []int, stats map[int]int, lastPage, expected int) []int {
	picked := make(map[int]struct{})
	for _, page := range known {
		count, seen := stats[page]
		switch {
		case !seen:
			picked[page] = struct{}{}
		case count < expected:
			picked[page] = struct{}{}
		}
	}

	if len(picked) == 0 {
		for _, page := range known {
			if page > lastPage {
				picked[page] = struct{}{}
			}
		}
	}

	out := make([]int, 0, len(picked))
	for page := range picked {
		out = append(out, page)
	}
	sort.Ints(out)
	return out
}
