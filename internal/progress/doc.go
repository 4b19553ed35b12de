// Package progress defines the event stream emitted by a crawl run and the
// hub that fans events out to sinks (logs, Prometheus) without blocking the
// engine.
package progress
