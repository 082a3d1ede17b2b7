// Package join merges the four per-year row families into one joined record
// per accident key.
package join

import (
	"log/slog"

	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/observability"
	"github.com/mpicard/baac-enrich/internal/source"
)

// Joiner builds per-accident record streams from loaded year data.
type Joiner struct {
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Joiner with the given observability.
func New(metrics *observability.Metrics, logger *slog.Logger) *Joiner {
	return &Joiner{metrics: metrics, logger: logger}
}

// Counts reports what the indexing pass dropped, for the run summary.
type Counts struct {
	Records    int // distinct keys the stream will yield
	Duplicates int // characteristics rows dropped because their key was already seen
	Orphans    int // child rows whose key has no characteristics row
	MissingKey int // rows of any family without a key value
}

// Stream yields one year's joined records in characteristics file order.
// Child rows keep their own file order within each record. A Stream is not
// safe for concurrent use; a single producer drains it.
type Stream struct {
	joiner    *Joiner
	keys      []string
	chars     map[string]domain.Row
	locations map[string][]domain.Row
	vehicles  map[string][]domain.Row
	persons   map[string][]domain.Row
	counts    Counts
	pos       int
}

// Year indexes one year's data and returns its record stream.
//
// Characteristics rows without a key are dropped; a duplicate key keeps the
// first row and drops the rest; child rows whose key never appears in the
// characteristics file are dropped as orphans. Every drop is counted, none
// is fatal.
func (j *Joiner) Year(data *source.YearData) *Stream {
	s := &Stream{
		joiner: j,
		chars:  make(map[string]domain.Row, len(data.Characteristics)),
	}

	var dupes int
	for _, row := range data.Characteristics {
		key := row[source.KeyColumn]
		if key == "" {
			s.counts.MissingKey++
			continue
		}
		if _, seen := s.chars[key]; seen {
			dupes++
			continue
		}
		s.chars[key] = row
		s.keys = append(s.keys, key)
	}
	if s.counts.MissingKey > 0 {
		j.metrics.JoinDroppedRows.WithLabelValues("characteristics", "missing_key").Add(float64(s.counts.MissingKey))
	}
	if dupes > 0 {
		s.counts.Duplicates = dupes
		j.metrics.JoinDroppedRows.WithLabelValues("characteristics", "duplicate_key").Add(float64(dupes))
		j.logger.Warn("duplicate accident keys dropped", "year", data.Year, "rows", dupes)
	}

	s.locations = j.indexChildren(s, "locations", data.Year, data.Locations)
	s.vehicles = j.indexChildren(s, "vehicles", data.Year, data.Vehicles)
	s.persons = j.indexChildren(s, "persons", data.Year, data.Persons)

	s.counts.Records = len(s.keys)
	return s
}

// indexChildren groups one child family by key in file order, dropping
// orphans and rows without a key.
func (j *Joiner) indexChildren(s *Stream, family string, year int, rows []domain.Row) map[string][]domain.Row {
	grouped := make(map[string][]domain.Row)
	var orphans, missing int
	for _, row := range rows {
		key := row[source.KeyColumn]
		if key == "" {
			missing++
			continue
		}
		if _, ok := s.chars[key]; !ok {
			orphans++
			continue
		}
		grouped[key] = append(grouped[key], row)
	}

	if missing > 0 {
		s.counts.MissingKey += missing
		j.metrics.JoinDroppedRows.WithLabelValues(family, "missing_key").Add(float64(missing))
	}
	if orphans > 0 {
		s.counts.Orphans += orphans
		j.metrics.JoinDroppedRows.WithLabelValues(family, "orphan").Add(float64(orphans))
		j.logger.Warn("orphan child rows dropped", "year", year, "source", family, "rows", orphans)
	}
	return grouped
}

// Next returns the next joined record; ok is false once the stream is
// exhausted.
func (s *Stream) Next() (rec domain.JoinedRecord, ok bool) {
	if s.pos >= len(s.keys) {
		return domain.JoinedRecord{}, false
	}
	key := s.keys[s.pos]
	s.pos++
	s.joiner.metrics.RecordsJoined.Inc()

	return domain.JoinedRecord{
		Key:             key,
		Characteristics: s.chars[key],
		Locations:       s.locations[key],
		Vehicles:        s.vehicles[key],
		Persons:         s.persons[key],
	}, true
}

// Len reports how many records the stream yields in total.
func (s *Stream) Len() int { return len(s.keys) }

// Counts returns the drop counters recorded while indexing.
func (s *Stream) Counts() Counts { return s.counts }
