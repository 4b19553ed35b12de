package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PartitionResolver attributes a record to a partition key under the active
// run's rule. It returns false when the record does not belong to the active
// partition; such records stay in the record store but are excluded from the
// partition's stats.
type PartitionResolver func(Record) (string, bool)

// PageStat tracks how many cards are currently attributed to one page.
type PageStat struct {
	CardsCollected int `json:"cards_collected"`
}

// Entry is the per-(target, partition key) progress record.
type Entry struct {
	LastPage  int               `json:"last_page"`
	Collected int               `json:"collected"`
	PageStats map[int]*PageStat `json:"page_stats"`
}

// PageCounts flattens PageStats into a page -> count map for the scheduler.
func (e Entry) PageCounts() map[int]int {
	out := make(map[int]int, len(e.PageStats))
	for page, stat := range e.PageStats {
		if stat != nil {
			out[page] = stat.CardsCollected
		}
	}
	return out
}

// TargetProgress groups every partition entry for one crawl target.
type TargetProgress struct {
	Dates     map[string]*Entry `json:"dates"`
	UpdatedAt string            `json:"updated_at"`
}

// Ledger is the multi-target progress file. It is a rebuildable cache over
// the record store, never an independent source of truth. All mutation goes
// through methods so the status API can take consistent snapshots while the
// engine runs.
type Ledger struct {
	mu     sync.RWMutex
	path   string
	all    map[string]*TargetProgress
	dirty  map[string]struct{}
	logger *zap.Logger
	now    func() time.Time
}

// LedgerPath derives the ledger file name from the record store path by
// swapping the extension for ".progress.json".
func LedgerPath(recordPath string) string {
	ext := filepath.Ext(recordPath)
	return strings.TrimSuffix(recordPath, ext) + ".progress.json"
}

// LoadLedger reads the full multi-target ledger. A missing file yields an
// empty ledger; a malformed file is logged and replaced with an empty one.
func LoadLedger(path string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		path:   path,
		all:    make(map[string]*TargetProgress),
		dirty:  make(map[string]struct{}),
		logger: logger,
		now:    time.Now,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Failed to read ledger, starting empty",
				zap.String("path", path), zap.Error(err))
		}
		return l
	}
	if err := json.Unmarshal(data, &l.all); err != nil {
		logger.Error("Failed to parse ledger, starting empty",
			zap.String("path", path), zap.Error(err))
		l.all = make(map[string]*TargetProgress)
	}
	return l
}

func (l *Ledger) entryLocked(target, key string) *Entry {
	l.dirty[target] = struct{}{}
	tp, ok := l.all[target]
	if !ok {
		tp = &TargetProgress{Dates: make(map[string]*Entry)}
		l.all[target] = tp
	}
	if tp.Dates == nil {
		tp.Dates = make(map[string]*Entry)
	}
	e, ok := tp.Dates[key]
	if !ok {
		e = &Entry{PageStats: make(map[int]*PageStat)}
		tp.Dates[key] = e
	}
	if e.PageStats == nil {
		e.PageStats = make(map[int]*PageStat)
	}
	return e
}

// Entry returns a copy of the entry for (target, key), creating a zero-valued
// one on first visit.
func (l *Ledger) Entry(target, key string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryLocked(target, key)
	out := Entry{
		LastPage:  e.LastPage,
		Collected: e.Collected,
		PageStats: make(map[int]*PageStat, len(e.PageStats)),
	}
	for page, stat := range e.PageStats {
		if stat != nil {
			copied := *stat
			out.PageStats[page] = &copied
		}
	}
	return out
}

// SetPageStat records the current card count for one page.
func (l *Ledger) SetPageStat(target, key string, page, cards int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryLocked(target, key)
	e.PageStats[page] = &PageStat{CardsCollected: cards}
}

// AdvanceLastPage raises last_page to page if it is currently lower.
func (l *Ledger) AdvanceLastPage(target, key string, page int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entryLocked(target, key)
	if page > e.LastPage {
		e.LastPage = page
	}
}

// SetCollected records the informational total-records mirror.
func (l *Ledger) SetCollected(target, key string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entryLocked(target, key).Collected = n
}

// Rebuild recomputes page_stats, collected, and last_page for target purely
// from the reconciled record set. Records the resolver rejects are excluded
// from stats but are not removed from the record store. Running Rebuild twice
// over the same records yields identical stats.
func (l *Ledger) Rebuild(target string, records []Record, resolve PartitionResolver) {
	agg := make(map[string]map[int]int)
	for _, rec := range records {
		page, ok := rec.Page()
		if !ok {
			continue
		}
		key, ok := resolve(rec)
		if !ok {
			continue
		}
		pages, ok := agg[key]
		if !ok {
			pages = make(map[int]int)
			agg[key] = pages
		}
		pages[page]++
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, pages := range agg {
		e := l.entryLocked(target, key)
		e.PageStats = make(map[int]*PageStat, len(pages))
		collected := 0
		maxPage := 0
		for page, count := range pages {
			e.PageStats[page] = &PageStat{CardsCollected: count}
			collected += count
			if page > maxPage {
				maxPage = page
			}
		}
		e.Collected = collected
		if maxPage > 0 {
			e.LastPage = maxPage
		}
	}
}

// Save writes the entire ledger atomically: marshal to a temp file in the
// same directory, then rename over the target so a concurrent reader only
// ever observes fully-old or fully-new content.
func (l *Ledger) Save() error {
	l.mu.Lock()
	stamp := l.now().Format(time.RFC3339)
	for target := range l.dirty {
		if tp, ok := l.all[target]; ok {
			tp.UpdatedAt = stamp
		}
	}
	data, err := json.MarshalIndent(l.all, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger %s: %w", l.path, err)
	}
	return nil
}

// Snapshot deep-copies the progress for one target, for the status API.
func (l *Ledger) Snapshot(target string) TargetProgress {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := TargetProgress{Dates: make(map[string]*Entry)}
	tp, ok := l.all[target]
	if !ok {
		return out
	}
	out.UpdatedAt = tp.UpdatedAt
	for key, e := range tp.Dates {
		if e == nil {
			continue
		}
		copied := &Entry{
			LastPage:  e.LastPage,
			Collected: e.Collected,
			PageStats: make(map[int]*PageStat, len(e.PageStats)),
		}
		for page, stat := range e.PageStats {
			if stat != nil {
				s := *stat
				copied.PageStats[page] = &s
			}
		}
		out.Dates[key] = copied
	}
	return out
}
