// Package sinks provides progress.Sink implementations: structured logging
// and Prometheus collectors.
package sinks
