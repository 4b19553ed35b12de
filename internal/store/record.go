package store

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Field names every record carries regardless of what the card exposed.
const (
	FieldTarget = "rn"
	FieldPage   = "page"
)

// Record is a single extracted card: a sparse mapping from field label to
// value. Absent fields render as empty cells when written out.
type Record map[string]string

// Page returns the 1-based page number the record was extracted from, or
// (0, false) when the page field is missing or not numeric.
func (r Record) Page() (int, bool) {
	raw := strings.TrimSpace(r[FieldPage])
	if raw == "" {
		return 0, false
	}
	p, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return p, true
}

// RecordStore owns the CSV file for one crawl target. The column set grows as
// new field labels are observed, so every append rewrites the full file
// (header plus all rows) and flushes before returning. The in-memory record
// slice mirrors the file contents at all times.
type RecordStore struct {
	path   string
	target string
	logger *zap.Logger

	file    *os.File
	fields  []string
	known   map[string]struct{}
	records []Record
}

// OpenRecordStore loads any previously persisted records for target from
// path and opens the file for rewriting. A missing file yields an empty
// store; a structurally broken file is logged and degraded to empty rather
// than aborting the run.
func OpenRecordStore(path, target string, logger *zap.Logger) (*RecordStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RecordStore{
		path:   path,
		target: target,
		logger: logger,
		known:  make(map[string]struct{}),
	}
	s.loadExisting()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open record store %s: %w", path, err)
	}
	s.file = f
	if len(s.records) > 0 || len(s.fields) > 0 {
		if err := s.rewrite(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *RecordStore) loadExisting() {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("Failed to open record store, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(bufio.NewReader(f))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		s.logger.Error("Failed to parse record store, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	for _, name := range header {
		s.registerField(name)
	}

	for _, row := range rows[1:] {
		rec := make(Record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		if rec[FieldTarget] != s.target {
			continue
		}
		s.records = append(s.records, rec)
	}
	s.logger.Info("Loaded existing records",
		zap.String("target", s.target), zap.Int("records", len(s.records)))
}

func (s *RecordStore) registerField(name string) {
	if name == "" {
		return
	}
	if _, ok := s.known[name]; ok {
		return
	}
	s.known[name] = struct{}{}
	s.fields = append(s.fields, name)
}

// Fields returns the known field labels in first-seen order.
func (s *RecordStore) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Records returns the live record slice. Callers must treat it as read-only.
func (s *RecordStore) Records() []Record {
	return s.records
}

// Len reports how many records are currently persisted for the target.
func (s *RecordStore) Len() int {
	return len(s.records)
}

// Append merges any new field labels into the column registry, adds the
// record, and rewrites the whole file. Once Append returns the record has
// been flushed to disk.
func (s *RecordStore) Append(rec Record) error {
	newFields := make([]string, 0, 2)
	for name := range rec {
		if _, ok := s.known[name]; !ok {
			newFields = append(newFields, name)
		}
	}
	// Fields first seen in the same record are registered in sorted order so
	// reruns produce identical headers.
	sort.Strings(newFields)
	for _, name := range newFields {
		s.registerField(name)
	}
	if len(newFields) > 0 {
		s.logger.Info("New record fields discovered", zap.Strings("fields", newFields))
	}
	s.registerField(FieldPage)

	s.records = append(s.records, rec)
	return s.rewrite()
}

// ReplaceAll swaps the record set (after reconciliation) and rewrites the
// file so the on-disk state matches the cleaned view.
func (s *RecordStore) ReplaceAll(recs []Record) error {
	s.records = recs
	return s.rewrite()
}

func (s *RecordStore) rewrite() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek record store: %w", err)
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate record store: %w", err)
	}
	w := csv.NewWriter(s.file)
	if err := w.Write(s.fields); err != nil {
		return fmt.Errorf("write record store header: %w", err)
	}
	row := make([]string, len(s.fields))
	for _, rec := range s.records {
		for i, name := range s.fields {
			row[i] = rec[name]
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write record store row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush record store: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync record store: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (s *RecordStore) Close() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close record store: %w", err)
	}
	s.file = nil
	return nil
}
