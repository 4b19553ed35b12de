package crawler

import "errors"

// Configuration errors abort the run before any fetching starts. Page-level
// failures are absorbed: an exhausted page is logged and the run moves on.
var (
	// ErrInvalidDateFormat signals a date that is not strict YYYY-MM-DD.
	ErrInvalidDateFormat = errors.New("invalid date format, expected YYYY-MM-DD")
	// ErrInvalidRange signals a date range whose end precedes its start.
	ErrInvalidRange = errors.New("invalid date range: end is before start")
	// ErrPageExhausted marks a page that failed every attempt in its retry
	// budget. Progress collected so far is kept.
	ErrPageExhausted = errors.New("page retry budget exhausted")
)

// Transport and UI-timing errors returned by Session implementations. They
// are absorbed locally: timeouts drive bounded retries, an unusable session
// drives a restart. None of them propagate past the page loop.
var (
	// ErrNavigationTimeout signals the page did not load within the budget.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrConditionTimeout signals a wait-for-appearance check expired.
	ErrConditionTimeout = errors.New("condition wait timed out")
	// ErrInteractionFailed signals a click that could not be delivered.
	ErrInteractionFailed = errors.New("element interaction failed")
	// ErrSessionUnusable signals the browser session is gone and must be
	// recreated before the page can be retried.
	ErrSessionUnusable = errors.New("browser session unusable")
)
