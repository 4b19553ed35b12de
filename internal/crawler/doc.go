// Package crawler implements the resumable crawl engine: date partitioning,
// page-completeness reconciliation, page scheduling, and the per-page fetch
// driver that runs against a browser session.
package crawler
