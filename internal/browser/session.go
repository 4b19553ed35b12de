// Package browser implements the crawler.Session contract over headless
// Chrome via chromedp. One Session owns one browser; the engine drives it
// strictly sequentially.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dshkereda/CollectOfDevices/internal/crawler"
)

// Config captures the browser session parameters.
type Config struct {
	Headless  bool
	UserAgent string
	// OpTimeout bounds short DOM operations (count, text, extract, click).
	OpTimeout time.Duration
}

const defaultOpTimeout = 10 * time.Second

// ChromeSession is a restartable headless Chrome session.
type ChromeSession struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeSession launches the browser and verifies it is usable.
func NewChromeSession(cfg Config, logger *zap.Logger) (*ChromeSession, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ChromeSession{cfg: cfg, logger: logger}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChromeSession) start() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		// The listing is text-only; skipping images keeps page loads fast.
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	warmup := chromedp.Tasks{network.Enable()}
	if s.cfg.UserAgent != "" {
		warmup = append(warmup, emulation.SetUserAgentOverride(s.cfg.UserAgent))
	}
	if err := chromedp.Run(browserCtx, warmup); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("chromedp warmup: %w", err)
	}
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.logger.Info("Chrome session started", zap.Bool("headless", s.cfg.Headless))
	return nil
}

// Navigate opens the URL and waits for the document body to become ready.
func (s *ChromeSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return s.classify(err, crawler.ErrNavigationTimeout, "navigate "+url)
	}
	return nil
}

// Count returns how many elements currently match the XPath expression.
func (s *ChromeSession) Count(ctx context.Context, xpath string) (int, error) {
	var n int
	expr := fmt.Sprintf(
		`document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`,
		xpath)
	if err := s.run(ctx, s.cfg.OpTimeout, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, s.classify(err, crawler.ErrSessionUnusable, "count "+xpath)
	}
	return n, nil
}

// Texts returns the trimmed text content of every element matching the XPath.
func (s *ChromeSession) Texts(ctx context.Context, xpath string) ([]string, error) {
	var texts []string
	expr := fmt.Sprintf(`(() => {
	const r = document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const out = [];
	for (let i = 0; i < r.snapshotLength; i++) {
		out.push(r.snapshotItem(i).textContent.trim());
	}
	return out;
})()`, xpath)
	if err := s.run(ctx, s.cfg.OpTimeout, chromedp.Evaluate(expr, &texts)); err != nil {
		return nil, s.classify(err, crawler.ErrSessionUnusable, "texts "+xpath)
	}
	return texts, nil
}

// ClickFirst scrolls the first matching element into view and clicks it.
func (s *ChromeSession) ClickFirst(ctx context.Context, xpath string) error {
	err := s.run(ctx, s.cfg.OpTimeout,
		chromedp.ScrollIntoView(xpath, chromedp.BySearch),
		chromedp.Click(xpath, chromedp.BySearch),
	)
	if err != nil {
		return s.classify(err, crawler.ErrInteractionFailed, "click "+xpath)
	}
	return nil
}

// WaitCountAbove blocks until more than n elements match the XPath, or fails
// with ErrConditionTimeout.
func (s *ChromeSession) WaitCountAbove(ctx context.Context, xpath string, n int, timeout time.Duration) error {
	var ok bool
	expr := fmt.Sprintf(
		`document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength > %d`,
		xpath, n)
	err := s.run(ctx, timeout+time.Second,
		chromedp.Poll(expr, &ok, chromedp.WithPollingTimeout(timeout)),
	)
	if err != nil {
		return s.classify(err, crawler.ErrConditionTimeout, "wait "+xpath)
	}
	return nil
}

// ExtractFields reads the th/td table rows of the last matching element.
// Labels are trimmed and stripped of embedded newlines; empty labels are
// dropped.
func (s *ChromeSession) ExtractFields(ctx context.Context, xpath string) (map[string]string, error) {
	fields := make(map[string]string)
	expr := fmt.Sprintf(`(() => {
	const r = document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const out = {};
	if (r.snapshotLength === 0) return out;
	const card = r.snapshotItem(r.snapshotLength - 1);
	for (const row of card.querySelectorAll('tr')) {
		const th = row.querySelector('th');
		const td = row.querySelector('td');
		if (!th || !td) continue;
		const label = th.textContent.trim().replace(/\n/g, '');
		if (label) out[label] = td.textContent.trim().replace(/\n/g, '');
	}
	return out;
})()`, xpath)
	if err := s.run(ctx, s.cfg.OpTimeout, chromedp.Evaluate(expr, &fields)); err != nil {
		return nil, s.classify(err, crawler.ErrSessionUnusable, "extract "+xpath)
	}
	return fields, nil
}

// Restart tears the browser down and brings up a fresh one.
func (s *ChromeSession) Restart(ctx context.Context) error {
	s.logger.Info("Restarting Chrome session")
	s.teardown()
	if err := sleepCtx(ctx, 300*time.Millisecond); err != nil {
		return err
	}
	if err := s.start(); err != nil {
		return fmt.Errorf("%w: %v", crawler.ErrSessionUnusable, err)
	}
	return nil
}

// Close releases the browser for good.
func (s *ChromeSession) Close(context.Context) error {
	s.teardown()
	return nil
}

func (s *ChromeSession) teardown() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
}

// run executes chromedp actions under the browser context with a deadline,
// while honoring the caller's context cancellation.
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.browserCtx == nil {
		return crawler.ErrSessionUnusable
	}
	taskCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(taskCtx, actions...)
}

// classify maps a chromedp failure onto the engine's error taxonomy: a dead
// browser always means the session is unusable; a deadline means the
// operation-specific timeout sentinel.
func (s *ChromeSession) classify(err error, timeoutSentinel error, op string) error {
	if s.browserCtx == nil || s.browserCtx.Err() != nil || isTransportErr(err) {
		return fmt.Errorf("%w: %s: %v", crawler.ErrSessionUnusable, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("%w: %s", timeoutSentinel, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransportErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "context canceled")
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
