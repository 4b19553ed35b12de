// Package store implements the durable state owned by a crawl run: the CSV
// record store and the JSON progress ledger that is rebuilt from it.
package store
