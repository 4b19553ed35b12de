package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshkereda/CollectOfDevices/internal/progress"
	"github.com/dshkereda/CollectOfDevices/internal/store"
)

// XPath selectors for the verification-results listing UI.
const (
	pageButtonsXPath = "//*[@class='page-link shadow-none']"
	cardButtonXPath  = "//*[@class='btn btn-primary btn-sm dropdown-toggle']"
	openedCardXPath  = "//*[@class='border rounded mb-2 p-2 border-warning shadow']"
	totalCountXPath  = "//*[@class='text-muted text-end']/strong"
)

// pageLoopGuard caps in-page iterations so a stuck UI cannot spin forever.
const pageLoopGuard = 2000

var nonDigits = regexp.MustCompile(`\D`)

// Engine drives one resumable crawl run: reconcile persisted state, schedule
// the pages each partition still needs, and execute them against the browser
// session. All work is sequential; the session holds stateful UI.
type Engine struct {
	cfg     Config
	scope   Scope
	resolve store.PartitionResolver
	session Session
	records *store.RecordStore
	ledger  *store.Ledger
	mirror  RecordMirror
	hub     progress.Emitter
	backoff *BackoffPolicy
	runID   uuid.UUID
	logger  *zap.Logger
}

// NewEngine wires an Engine. mirror may be nil when no secondary persistence
// is configured; hub may be nil to disable progress events.
func NewEngine(
	cfg Config,
	scope Scope,
	session Session,
	records *store.RecordStore,
	ledger *store.Ledger,
	hub progress.Emitter,
	mirror RecordMirror,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		scope:   scope,
		resolve: scope.Resolver(),
		session: session,
		records: records,
		ledger:  ledger,
		mirror:  mirror,
		hub:     hub,
		backoff: NewBackoffPolicy(),
		runID:   uuid.New(),
		logger:  logger,
	}
}

// RunID identifies this run in progress events and the status API.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Run executes the crawl: reconcile, then visit every scheduled page of
// every date in scope, then emit the final consistency report. Only context
// cancellation propagates; page failures are absorbed per page.
func (e *Engine) Run(ctx context.Context) error {
	started := time.Now()
	e.emit(progress.Event{Stage: progress.StageRunStart, Target: e.cfg.Target})

	if err := e.reconcile(); err != nil {
		e.emit(progress.Event{Stage: progress.StageRunError, Target: e.cfg.Target, Note: err.Error()})
		return err
	}

	for _, date := range e.scope.Dates {
		if err := ctx.Err(); err != nil {
			e.emit(progress.Event{Stage: progress.StageRunError, Target: e.cfg.Target, Note: err.Error()})
			return err
		}
		if err := e.crawlDate(ctx, date); err != nil {
			e.emit(progress.Event{Stage: progress.StageRunError, Target: e.cfg.Target, Note: err.Error()})
			return err
		}
	}

	e.report()
	e.emit(progress.Event{
		Stage:  progress.StageRunDone,
		Target: e.cfg.Target,
		Dur:    time.Since(started),
	})
	return nil
}

// reconcile makes the record store and ledger one consistent view before any
// fetching: drop incomplete non-final pages, rewrite the store with the
// cleaned set, and rebuild the ledger from it. The record store wins over a
// stale ledger.
func (e *Engine) reconcile() error {
	before := e.records.Len()
	cleaned := CleanIncompletePages(e.records.Records(), e.cfg.CardsPerPage)
	if dropped := before - len(cleaned); dropped > 0 {
		e.logger.Info("Dropped records from incomplete pages",
			zap.Int("dropped", dropped), zap.Int("kept", len(cleaned)))
	}
	if err := e.records.ReplaceAll(cleaned); err != nil {
		return fmt.Errorf("rewrite reconciled records: %w", err)
	}
	e.ledger.Rebuild(e.cfg.Target, cleaned, e.resolve)
	if err := e.ledger.Save(); err != nil {
		e.logger.Error("Failed to persist rebuilt ledger", zap.Error(err))
	}
	return nil
}

// crawlDate runs one visit pass of the pagination under a single date filter
// (empty date means no filter). It returns an error only on cancellation or
// when the record store itself cannot be written.
func (e *Engine) crawlDate(ctx context.Context, date string) error {
	key := e.scope.Key
	e.logger.Info("Processing date",
		zap.String("date", orAll(date)), zap.String("partition", key))

	if err := e.navigateToPage(ctx, 1, date); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Error("Failed to open first page, skipping date",
			zap.String("date", orAll(date)), zap.Error(err))
		return nil
	}

	if total, err := e.totalFound(ctx); err == nil {
		e.logger.Info("Result count reported by site", zap.Int("total", total))
	}

	allPages := e.discoverPages(ctx)
	entry := e.ledger.Entry(e.cfg.Target, key)
	pages := PagesToVisit(allPages, entry.PageCounts(), entry.LastPage, e.cfg.CardsPerPage)
	if len(pages) == 0 {
		e.logger.Info("No pages left to visit", zap.String("partition", key))
		return nil
	}
	maxKnown := allPages[len(allPages)-1]
	e.logger.Info("Pages scheduled",
		zap.Ints("pages", pages), zap.Int("max_known", maxKnown))

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry = e.ledger.Entry(e.cfg.Target, key)
		if stat := entry.PageStats[page]; stat != nil &&
			stat.CardsCollected >= e.cfg.CardsPerPage && page != maxKnown {
			e.logger.Info("Skipping already complete page",
				zap.Int("page", page), zap.Int("cards", stat.CardsCollected))
			e.ledger.AdvanceLastPage(e.cfg.Target, key, page)
			e.ledger.SetCollected(e.cfg.Target, key, e.records.Len())
			e.saveLedger()
			continue
		}
		if err := e.processPage(ctx, date, key, page); err != nil {
			return err
		}
	}

	e.logger.Info("Date finished",
		zap.String("date", orAll(date)), zap.Int("collected", e.records.Len()))
	return nil
}

// processPage runs the retry budget for one page and persists the ledger
// afterwards regardless of outcome, so a crash between pages loses at most
// the in-flight page's partial extraction.
func (e *Engine) processPage(ctx context.Context, date, key string, page int) error {
	started := time.Now()
	e.emit(progress.Event{
		Stage: progress.StagePageStart, Target: e.cfg.Target,
		PartitionKey: key, Page: page,
	})

	err := e.crawlPage(ctx, date, key, page)

	count := e.countForPage(key, page)
	e.ledger.SetPageStat(e.cfg.Target, key, page, count)
	e.ledger.SetCollected(e.cfg.Target, key, e.records.Len())
	if err == nil {
		e.ledger.AdvanceLastPage(e.cfg.Target, key, page)
	}
	e.saveLedger()

	switch {
	case err == nil:
		e.logger.Info("Page done", zap.Int("page", page), zap.Int("cards", count))
		e.emit(progress.Event{
			Stage: progress.StagePageDone, Target: e.cfg.Target,
			PartitionKey: key, Page: page, Cards: count, Dur: time.Since(started),
		})
	case errors.Is(err, ErrPageExhausted):
		e.logger.Error("Page failed every attempt, moving on",
			zap.Int("page", page), zap.Int("cards", count), zap.Error(err))
		e.emit(progress.Event{
			Stage: progress.StagePageExhausted, Target: e.cfg.Target,
			PartitionKey: key, Page: page, Cards: count,
			Dur: time.Since(started), Note: err.Error(),
		})
	default:
		// Cancellation; state is already durable.
		return err
	}
	return nil
}

// crawlPage runs up to PageAttempts attempts, restarting the session on
// transport failure. Attempts share one budget.
func (e *Engine) crawlPage(ctx context.Context, date, key string, page int) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.PageAttempts; attempt++ {
		err := e.attemptPage(ctx, date, key, page)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		e.logger.Warn("Page attempt failed",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Int("budget", e.cfg.PageAttempts),
			zap.Error(err))
		if errors.Is(err, ErrSessionUnusable) || errors.Is(err, ErrNavigationTimeout) {
			e.emit(progress.Event{Stage: progress.StageSessionRestart, Target: e.cfg.Target, Note: err.Error()})
			if rerr := e.session.Restart(ctx); rerr != nil {
				e.logger.Error("Session restart failed", zap.Error(rerr))
			}
		}
	}
	return fmt.Errorf("%w: page %d: %v", ErrPageExhausted, page, lastErr)
}

// attemptPage executes one extraction pass over the page: click the next
// card button, wait for the opened card, extract it, persist, until the page
// yields its full count or runs out of buttons.
func (e *Engine) attemptPage(ctx context.Context, date, key string, page int) error {
	if err := e.navigateToPage(ctx, page, date); err != nil {
		return err
	}
	if err := sleepCtx(ctx, e.cfg.DelayBetweenPages); err != nil {
		return err
	}

	// A page is redone whole, but stale records from an earlier visit are
	// only purged once this attempt extracts its first card. An attempt that
	// never extracts anything leaves the previously persisted page in place.
	purged := false
	for guard := 0; guard < pageLoopGuard; guard++ {
		buttons, err := e.session.Count(ctx, cardButtonXPath)
		if err != nil {
			return err
		}
		if buttons == 0 {
			return nil
		}

		before, err := e.session.Count(ctx, openedCardXPath)
		if err != nil {
			return err
		}

		if err := e.clickWithRetry(ctx); err != nil {
			if errors.Is(err, ErrInteractionFailed) {
				e.logger.Warn("Click failed after retries, trying next card", zap.Int("page", page))
				continue
			}
			return err
		}

		if err := e.session.WaitCountAbove(ctx, openedCardXPath, before, e.cfg.WaitTimeout); err != nil {
			if errors.Is(err, ErrConditionTimeout) {
				e.logger.Warn("Opened card did not appear in time", zap.Int("page", page))
				continue
			}
			return err
		}

		fields, err := e.session.ExtractFields(ctx, openedCardXPath)
		if err != nil {
			return err
		}
		rec := make(store.Record, len(fields)+3)
		for label, value := range fields {
			if label != "" {
				rec[label] = value
			}
		}
		rec[store.FieldTarget] = e.cfg.Target
		rec[store.FieldPage] = strconv.Itoa(page)
		if date != "" && rec[DateFieldName] == "" {
			rec[DateFieldName] = date
		}
		if !purged {
			if err := e.purgePage(key, page); err != nil {
				return err
			}
			purged = true
		}
		if err := e.records.Append(rec); err != nil {
			return err
		}
		e.mirrorRecord(ctx, key, rec)
		e.emit(progress.Event{
			Stage: progress.StageRecord, Target: e.cfg.Target,
			PartitionKey: key, Page: page, Cards: e.countForPage(key, page),
		})

		if err := sleepCtx(ctx, e.cfg.DelayAfterClick); err != nil {
			return err
		}
		if e.countForPage(key, page) >= e.cfg.CardsPerPage {
			return nil
		}
	}
	e.logger.Warn("Page loop guard reached", zap.Int("page", page))
	return nil
}

func (e *Engine) clickWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < e.cfg.ClickRetries; attempt++ {
		err := e.session.ClickFirst(ctx, cardButtonXPath)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrInteractionFailed) {
			return err
		}
		lastErr = err
		if err := sleepCtx(ctx, e.backoff.Backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (e *Engine) mirrorRecord(ctx context.Context, key string, rec store.Record) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.Store(ctx, e.cfg.Target, key, rec); err != nil {
		e.logger.Warn("Record mirror write failed", zap.Error(err))
	}
}

// purgePage removes every persisted record attributed to (partition key,
// page) so a refetch that is actually yielding data starts from zero.
func (e *Engine) purgePage(key string, page int) error {
	recs := e.records.Records()
	kept := make([]store.Record, 0, len(recs))
	for _, rec := range recs {
		p, ok := rec.Page()
		if ok && p == page {
			if recKey, in := e.resolve(rec); in && recKey == key {
				continue
			}
		}
		kept = append(kept, rec)
	}
	if len(kept) == len(recs) {
		return nil
	}
	e.logger.Info("Purged stale records before refetch",
		zap.Int("page", page), zap.Int("purged", len(recs)-len(kept)))
	if err := e.records.ReplaceAll(kept); err != nil {
		return fmt.Errorf("purge page %d: %w", page, err)
	}
	return nil
}

// countForPage counts persisted records attributed to (partition key, page)
// under the active run's rule. The record store is the source of truth.
func (e *Engine) countForPage(key string, page int) int {
	count := 0
	for _, rec := range e.records.Records() {
		p, ok := rec.Page()
		if !ok || p != page {
			continue
		}
		recKey, ok := e.resolve(rec)
		if !ok || recKey != key {
			continue
		}
		count++
	}
	return count
}

func (e *Engine) navigateToPage(ctx context.Context, page int, date string) error {
	target := e.buildURL(page, date)
	e.logger.Info("Opening page", zap.String("url", target))
	return e.session.Navigate(ctx, target, e.cfg.NavigateTimeout)
}

func (e *Engine) buildURL(page int, date string) string {
	params := url.Values{}
	params.Set("rn", e.cfg.Target)
	if date != "" {
		params.Set("date", date)
	}
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}
	return e.cfg.BaseURL + "?" + params.Encode()
}

// totalFound probes the site's result counter. Informational only.
func (e *Engine) totalFound(ctx context.Context) (int, error) {
	texts, err := e.session.Texts(ctx, totalCountXPath)
	if err != nil || len(texts) == 0 {
		return 0, fmt.Errorf("total counter not found: %w", err)
	}
	return safeInt(texts[0]), nil
}

// discoverPages expands the numeric pagination labels into 1..max, falling
// back to a single page when no labels are found.
func (e *Engine) discoverPages(ctx context.Context) []int {
	texts, err := e.session.Texts(ctx, pageButtonsXPath)
	if err != nil {
		e.logger.Warn("Failed to read pagination, assuming one page", zap.Error(err))
		return []int{1}
	}
	maxPage := 0
	for _, txt := range texts {
		if n, err := strconv.Atoi(txt); err == nil && n > maxPage {
			maxPage = n
		}
	}
	if maxPage == 0 {
		return []int{1}
	}
	pages := make([]int, 0, maxPage)
	for p := 1; p <= maxPage; p++ {
		pages = append(pages, p)
	}
	return pages
}

// report lists, per partition key, every non-final page still below the
// expected full-page size: a signal for the operator to re-run.
func (e *Engine) report() {
	snap := e.ledger.Snapshot(e.cfg.Target)
	e.logger.Info("Run summary",
		zap.String("target", e.cfg.Target), zap.Int("collected", e.records.Len()))
	for key, entry := range snap.Dates {
		if entry == nil || len(entry.PageStats) == 0 {
			continue
		}
		maxPage := 0
		for page := range entry.PageStats {
			if page > maxPage {
				maxPage = page
			}
		}
		var incomplete []int
		for page, stat := range entry.PageStats {
			if page == maxPage || stat == nil {
				continue
			}
			if stat.CardsCollected < e.cfg.CardsPerPage {
				incomplete = append(incomplete, page)
			}
		}
		if len(incomplete) > 0 {
			sort.Ints(incomplete)
			e.logger.Warn("Partition has incomplete non-final pages, re-run to repair",
				zap.String("partition", key), zap.Ints("pages", incomplete))
		} else {
			e.logger.Info("Partition is complete up to its final page",
				zap.String("partition", key))
		}
	}
}

func (e *Engine) saveLedger() {
	if err := e.ledger.Save(); err != nil {
		e.logger.Error("Failed to persist ledger", zap.Error(err))
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.hub == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(e.runID)
	evt.TS = time.Now().UTC()
	e.hub.Emit(evt)
}

func safeInt(raw string) int {
	n, err := strconv.Atoi(nonDigits.ReplaceAllString(raw, ""))
	if err != nil {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orAll(date string) string {
	if date == "" {
		return PartitionAll
	}
	return date
}
