// Package pipeline wires the run: load yearly sources, join on accident key,
// enrich through cache and rate-limited clients, deliver batches to the sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/join"
	"github.com/mpicard/baac-enrich/internal/observability"
	"github.com/mpicard/baac-enrich/internal/source"
)

// Source discovers year directories and loads their row families.
type Source interface {
	Years() ([]int, error)
	LoadYear(year int) (*source.YearData, error)
}

// Joiner indexes one year's data into a joined-record stream.
type Joiner interface {
	Year(data *source.YearData) *join.Stream
}

// Enricher consumes joined records and emits enriched documents, closing out
// before returning.
type Enricher interface {
	Run(ctx context.Context, in <-chan domain.JoinedRecord, out chan<- domain.EnrichedRecord, jobs int) error
	Counts() (done, partial, failed int64)
}

// Deliverer consumes enriched documents until the stream closes.
type Deliverer interface {
	Run(ctx context.Context, in <-chan domain.EnrichedRecord) error
	Counts() (delivered, spilled int64)
}

// Stats aggregates the run counters surfaced in the completion summary.
type Stats struct {
	YearsLoaded int
	YearsFailed int
	Records     int
	Duplicates  int
	Orphans     int
	MissingKey  int
	Done        int64
	Partial     int64
	Failed      int64
	Delivered   int64
	Spilled     int64
}

// Pipeline runs the three stages concurrently: a producer feeding joined
// records, the enrichment worker pool, and the sequential delivery consumer.
type Pipeline struct {
	source    Source
	joiner    Joiner
	enricher  Enricher
	deliverer Deliverer
	jobs      int
	logger    *slog.Logger
	metrics   *observability.Metrics

	ready atomic.Bool

	mu          sync.Mutex
	yearsLoaded int
	yearsFailed int
	joinCounts  join.Counts
}

// New creates a Pipeline with the given stages and observability.
func New(src Source, joiner Joiner, enricher Enricher, deliverer Deliverer, jobs int, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if jobs < 1 {
		jobs = 1
	}
	return &Pipeline{
		source:    src,
		joiner:    joiner,
		enricher:  enricher,
		deliverer: deliverer,
		jobs:      jobs,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once the pipeline has joined at least one
// record, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not joined any records yet")
	}
	return nil
}

// Run processes every available year and returns when the sink has seen the
// final batch. Cancelling ctx stops new work; documents already enriched or
// buffered for delivery are still flushed. The returned error is fatal per
// the run (no readable input at all); per-record and per-batch failures are
// counted instead.
func (p *Pipeline) Run(ctx context.Context) error {
	years, err := p.source.Years()
	if err != nil {
		return fmt.Errorf("discover year directories: %w", err)
	}
	if len(years) == 0 {
		return errors.New("no year directories found under the data dir")
	}

	p.logger.Info("pipeline started", "years", years, "jobs", p.jobs)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	records := make(chan domain.JoinedRecord, p.jobs)
	docs := make(chan domain.EnrichedRecord, p.jobs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return p.produce(gctx, years, records)
	})
	g.Go(func() error {
		return p.enricher.Run(gctx, records, docs, p.jobs)
	})
	g.Go(func() error {
		return p.deliverer.Run(gctx, docs)
	})

	err = g.Wait()
	p.logSummary()
	return err
}

// produce loads each year, joins it, and feeds the record stream. A year
// that fails to load is skipped and counted; only zero loadable years is
// fatal.
func (p *Pipeline) produce(ctx context.Context, years []int, records chan<- domain.JoinedRecord) error {
	var lastErr error
	for _, year := range years {
		if ctx.Err() != nil {
			p.logger.Info("producer stopping", "reason", ctx.Err())
			return nil
		}

		data, err := p.source.LoadYear(year)
		if err != nil {
			lastErr = err
			p.mu.Lock()
			p.yearsFailed++
			p.mu.Unlock()
			p.logger.Error("year skipped", "year", year, "error", err)
			continue
		}

		stream := p.joiner.Year(data)
		p.mu.Lock()
		p.yearsLoaded++
		c := stream.Counts()
		p.joinCounts.Records += c.Records
		p.joinCounts.Duplicates += c.Duplicates
		p.joinCounts.Orphans += c.Orphans
		p.joinCounts.MissingKey += c.MissingKey
		p.mu.Unlock()

		for {
			rec, ok := stream.Next()
			if !ok {
				break
			}
			select {
			case records <- rec:
				p.ready.Store(true)
			case <-ctx.Done():
				return nil
			}
		}
	}

	p.mu.Lock()
	loaded := p.yearsLoaded
	p.mu.Unlock()
	if loaded == 0 {
		return fmt.Errorf("no year could be loaded: %w", lastErr)
	}
	return nil
}

// Stats snapshots the run counters. Safe to call while the run is active.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		YearsLoaded: p.yearsLoaded,
		YearsFailed: p.yearsFailed,
		Records:     p.joinCounts.Records,
		Duplicates:  p.joinCounts.Duplicates,
		Orphans:     p.joinCounts.Orphans,
		MissingKey:  p.joinCounts.MissingKey,
	}
	p.mu.Unlock()

	s.Done, s.Partial, s.Failed = p.enricher.Counts()
	s.Delivered, s.Spilled = p.deliverer.Counts()
	return s
}

func (p *Pipeline) logSummary() {
	s := p.Stats()
	p.logger.Info("run summary",
		"years_loaded", s.YearsLoaded,
		"years_failed", s.YearsFailed,
		"records_joined", s.Records,
		"duplicate_keys", s.Duplicates,
		"orphan_rows", s.Orphans,
		"missing_key_rows", s.MissingKey,
		"enriched_done", s.Done,
		"enriched_partial", s.Partial,
		"dropped_invalid", s.Failed,
		"documents_delivered", s.Delivered,
		"documents_overflowed", s.Spilled,
	)
}
