// Package delivery cuts the enriched document stream into fixed-size batches
// and ships them to the sink, spilling undeliverable batches to a local
// overflow file so an unreachable sink never aborts a run.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/observability"
)

// Sink receives one batch as a unit, serialized to its own wire form. A
// failed batch is retried whole, so semantics downstream are at-least-once;
// consumers dedupe on accident_id.
type Sink interface {
	Deliver(ctx context.Context, batch []domain.EnrichedRecord) error
}

// Config sets the batching and retry policy.
type Config struct {
	// BatchSize is the number of documents per batch.
	BatchSize int
	// MaxAttempts bounds delivery tries per batch, counting the first.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt up to
	// MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// OverflowDir receives overflow-<RunID>.ndjson when retries exhaust.
	OverflowDir string
	RunID       string
}

// Batcher is the sequential consumer at the end of the pipeline: workers may
// finish out of order, but batches are cut in stream-arrival order and
// delivered one at a time, so the sink sees a stable ordered stream.
type Batcher struct {
	sink    Sink
	cfg     Config
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger

	overflow  *os.File
	delivered atomic.Int64 // documents acknowledged by the sink
	spilled   atomic.Int64 // documents written to the overflow file
}

// New creates a Batcher. Zero config fields fall back to working defaults.
func New(sink Sink, cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Batcher {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Batcher{
		sink:    sink,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// Run consumes documents until in closes or ctx is cancelled, delivering a
// batch whenever BatchSize documents have accumulated and flushing the final
// partial batch at stream end. A batch buffered at cancellation is flushed
// too — those documents already paid for their enrichment round-trips.
func (b *Batcher) Run(ctx context.Context, in <-chan domain.EnrichedRecord) error {
	defer b.closeOverflow()

	batch := make([]domain.EnrichedRecord, 0, b.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("delivery stopping", "reason", ctx.Err(), "buffered", len(batch))
			b.deliverBatch(context.WithoutCancel(ctx), batch)
			return nil
		case doc, ok := <-in:
			if !ok {
				b.deliverBatch(ctx, batch)
				return nil
			}
			batch = append(batch, doc)
			if len(batch) >= b.cfg.BatchSize {
				b.deliverBatch(ctx, batch)
				batch = make([]domain.EnrichedRecord, 0, b.cfg.BatchSize)
			}
		}
	}
}

// Counts reports sink-acknowledged and overflowed document totals. Safe to
// call while Run is in flight, so status endpoints can poll mid-run.
func (b *Batcher) Counts() (delivered, spilled int64) {
	return b.delivered.Load(), b.spilled.Load()
}

// deliverBatch tries the sink with bounded backoff and spills the batch to
// the overflow file when every attempt fails.
func (b *Batcher) deliverBatch(ctx context.Context, batch []domain.EnrichedRecord) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	backoff := b.cfg.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		err := b.sink.Deliver(ctx, batch)
		if err == nil {
			b.delivered.Add(int64(len(batch)))
			b.metrics.BatchesDelivered.Inc()
			b.metrics.DocumentsDelivered.Add(float64(len(batch)))
			b.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
			b.logger.Debug("batch delivered", "docs", len(batch), "attempt", attempt)
			return
		}
		lastErr = err

		if attempt < b.cfg.MaxAttempts {
			b.logger.Warn("batch delivery failed, will retry",
				"attempt", attempt,
				"backoff", backoff,
				"docs", len(batch),
				"error", err,
			)
			if !b.sleep(ctx, backoff) {
				break // cancelled mid-backoff: spill rather than drop
			}
			backoff = nextBackoff(backoff, b.cfg.MaxBackoff)
		}
	}

	b.spill(batch, lastErr)
}

// spill appends the batch to the overflow file, one document per line, in
// the same shape the sink would have received. The file preserves them for
// replay once the sink recovers.
func (b *Batcher) spill(batch []domain.EnrichedRecord, cause error) {
	f, err := b.overflowFile()
	if err != nil {
		b.logger.Error("overflow file unavailable, batch lost",
			"docs", len(batch), "cause", cause, "error", err)
		return
	}

	written := 0
	for i := range batch {
		line, err := json.Marshal(&batch[i])
		if err != nil {
			b.logger.Error("document not serializable, dropped",
				"accident_id", batch[i].AccidentID, "error", err)
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			b.logger.Error("overflow write failed",
				"accident_id", batch[i].AccidentID, "error", err)
			continue
		}
		written++
	}

	b.spilled.Add(int64(written))
	b.metrics.BatchesOverflowed.Inc()
	b.logger.Error("batch routed to overflow after exhausted retries",
		"docs", len(batch), "written", written, "file", f.Name(), "cause", cause)
}

// overflowFile opens the run's overflow file on first use and keeps it open
// for appends until Run finishes.
func (b *Batcher) overflowFile() (*os.File, error) {
	if b.overflow != nil {
		return b.overflow, nil
	}
	if err := os.MkdirAll(b.cfg.OverflowDir, 0o755); err != nil {
		return nil, fmt.Errorf("create overflow dir: %w", err)
	}
	name := filepath.Join(b.cfg.OverflowDir, fmt.Sprintf("overflow-%s.ndjson", b.cfg.RunID))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open overflow file: %w", err)
	}
	b.overflow = f
	return f, nil
}

func (b *Batcher) closeOverflow() {
	if b.overflow != nil {
		b.overflow.Close()
		b.overflow = nil
	}
}

func (b *Batcher) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-b.clock.After(d):
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
