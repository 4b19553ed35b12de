package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshkereda/CollectOfDevices/internal/store"
)

// PartitionAll is the partition key used when no date filter is active.
const PartitionAll = "ALL"

// DateFieldName is the card field holding the verification date, as it
// appears in the CSV header.
const DateFieldName = "Дата поверки"

const dayFormat = "2006-01-02"

// recordDateFormats are the layouts accepted for dates found inside records.
// The site renders DD.MM.YYYY; date-filtered runs backfill ISO dates.
var recordDateFormats = []string{"02.01.2006", dayFormat}

// Scope is a run's resolved date scope: the single partition key under which
// all progress bookkeeping happens, and the ordered calendar dates to visit.
// An empty string in Dates means one unfiltered pass.
type Scope struct {
	Key   string
	Dates []string

	rangeStart time.Time
	rangeEnd   time.Time
	single     time.Time
}

// ResolveScope maps the optional single-date and date-range inputs to a
// Scope. When both are given the range wins; callers should surface that
// precedence to the user. Date parsing is strict: a malformed input is fatal
// for the run.
func ResolveScope(date, dateRange string) (Scope, error) {
	if dateRange != "" {
		return resolveRange(dateRange)
	}
	if date != "" {
		d, err := parseDay(date)
		if err != nil {
			return Scope{}, err
		}
		return Scope{Key: date, Dates: []string{date}, single: d}, nil
	}
	return Scope{Key: PartitionAll, Dates: []string{""}}, nil
}

func resolveRange(dateRange string) (Scope, error) {
	parts := strings.Split(dateRange, ":")
	if len(parts) != 2 {
		return Scope{}, fmt.Errorf("%w: range %q is not START:END", ErrInvalidDateFormat, dateRange)
	}
	start, err := parseDay(parts[0])
	if err != nil {
		return Scope{}, err
	}
	end, err := parseDay(parts[1])
	if err != nil {
		return Scope{}, err
	}
	if end.Before(start) {
		return Scope{}, fmt.Errorf("%w: %s", ErrInvalidRange, dateRange)
	}
	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dayFormat))
	}
	return Scope{Key: dateRange, Dates: dates, rangeStart: start, rangeEnd: end}, nil
}

func parseDay(raw string) (time.Time, error) {
	d, err := time.Parse(dayFormat, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
	}
	return d, nil
}

// Ranged reports whether the scope was built from a date range.
func (s Scope) Ranged() bool {
	return !s.rangeStart.IsZero()
}

// Resolver returns the partition attribution rule matching this scope, used
// both by the ledger rebuild and by per-page counting. Records whose date
// field fails to parse under every accepted layout are excluded from date
// scoped partitions (but stay in the record store).
func (s Scope) Resolver() store.PartitionResolver {
	switch {
	case s.Ranged():
		return func(rec store.Record) (string, bool) {
			d, ok := parseRecordDate(rec[DateFieldName])
			if !ok {
				return "", false
			}
			if d.Before(s.rangeStart) || d.After(s.rangeEnd) {
				return "", false
			}
			return s.Key, true
		}
	case !s.single.IsZero():
		return func(rec store.Record) (string, bool) {
			d, ok := parseRecordDate(rec[DateFieldName])
			if !ok || !d.Equal(s.single) {
				return "", false
			}
			return s.Key, true
		}
	default:
		return func(store.Record) (string, bool) {
			return PartitionAll, true
		}
	}
}

func parseRecordDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range recordDateFormats {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
