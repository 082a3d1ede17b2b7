// Package enrich drives each joined record through cache lookup, external
// fetch and merge, producing the enriched documents the delivery stage ships.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mpicard/baac-enrich/internal/cache"
	"github.com/mpicard/baac-enrich/internal/domain"
	"github.com/mpicard/baac-enrich/internal/observability"
)

// Enricher fans joined records out to a bounded worker pool. Workers share
// the cache and the two rate-limited fetchers; a singleflight group collapses
// concurrent fetches of the same fingerprint so each fingerprint is fetched
// at most once per run.
type Enricher struct {
	cache        cache.Store
	weather      domain.WeatherFetcher
	infra        domain.InfraFetcher
	radiusMeters int
	metrics      *observability.Metrics
	logger       *slog.Logger

	flight singleflight.Group

	done    atomic.Int64
	partial atomic.Int64
	failed  atomic.Int64
}

// New creates an Enricher. radiusMeters is the infrastructure search radius
// used for queries and their fingerprints.
func New(store cache.Store, weather domain.WeatherFetcher, infra domain.InfraFetcher, radiusMeters int, metrics *observability.Metrics, logger *slog.Logger) *Enricher {
	return &Enricher{
		cache:        store,
		weather:      weather,
		infra:        infra,
		radiusMeters: radiusMeters,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run consumes joined records from in until it closes or ctx is cancelled,
// emitting enriched documents on out. jobs bounds how many records are in
// flight at once. out is closed before Run returns so the consumer can range
// over it. Cancellation stops new work; records already mid-fetch finish
// under the client's own call timeout.
func (e *Enricher) Run(ctx context.Context, in <-chan domain.JoinedRecord, out chan<- domain.EnrichedRecord, jobs int) error {
	if jobs < 1 {
		jobs = 1
	}
	defer close(out)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < jobs; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case rec, ok := <-in:
					if !ok {
						return nil
					}
					doc, emit := e.enrichOne(ctx, rec)
					if !emit {
						continue
					}
					select {
					case out <- doc:
					case <-ctx.Done():
						return nil
					}
				}
			}
		})
	}
	return g.Wait()
}

// Counts returns how many records reached each terminal state so far.
func (e *Enricher) Counts() (done, partial, failed int64) {
	return e.done.Load(), e.partial.Load(), e.failed.Load()
}

// enrichOne runs one record through the cache/fetch/merge sequence. emit is
// false for structurally invalid records and for records abandoned because
// the run was cancelled mid-flight.
func (e *Enricher) enrichOne(ctx context.Context, rec domain.JoinedRecord) (doc domain.EnrichedRecord, emit bool) {
	if !rec.Valid() {
		e.failed.Add(1)
		e.metrics.EnrichedRecords.WithLabelValues(domain.StatusFailed).Inc()
		e.logger.Warn("dropping structurally invalid record", "accident_id", rec.Key)
		return domain.EnrichedRecord{}, false
	}

	c := domain.ParseCharacteristics(rec.Characteristics)
	status := domain.StatusDone
	var enr domain.Enrichment

	if q, need := domain.NewWeatherQuery(c); need {
		w, err := e.getWeather(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return domain.EnrichedRecord{}, false
			}
			status = domain.StatusPartial
			e.logger.Warn("weather enrichment failed", "accident_id", rec.Key, "error", err)
		} else {
			enr.Weather = w
		}
	}

	if q, need := domain.NewInfraQuery(c, e.radiusMeters); need {
		inf, err := e.getInfra(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return domain.EnrichedRecord{}, false
			}
			status = domain.StatusPartial
			e.logger.Warn("infrastructure enrichment failed", "accident_id", rec.Key, "error", err)
		} else {
			enr.Infrastructure = inf
		}
	}

	if status == domain.StatusDone {
		e.done.Add(1)
	} else {
		e.partial.Add(1)
	}
	e.metrics.EnrichedRecords.WithLabelValues(status).Inc()
	return domain.NewEnrichedRecord(rec, c, enr, status), true
}

// getWeather resolves one weather fingerprint: cache first, then a
// singleflight-deduplicated fetch whose result is written back to the cache.
func (e *Enricher) getWeather(ctx context.Context, q domain.WeatherQuery) (*domain.Weather, error) {
	fp := q.Fingerprint()
	if w, ok := e.cachedWeather(ctx, fp); ok {
		e.metrics.CacheLookups.WithLabelValues("meteo", "hit").Inc()
		return w, nil
	}
	e.metrics.CacheLookups.WithLabelValues("meteo", "miss").Inc()

	v, err, _ := e.flight.Do(fp, func() (any, error) {
		// A sibling may have cached the entry between our miss and now.
		if w, ok := e.cachedWeather(ctx, fp); ok {
			return w, nil
		}
		w, err := e.weather.FetchWeather(ctx, q)
		if err != nil {
			return nil, err
		}
		e.storePayload(ctx, fp, w)
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Weather), nil
}

// getInfra resolves one infrastructure fingerprint the same way.
func (e *Enricher) getInfra(ctx context.Context, q domain.InfraQuery) (*domain.Infrastructure, error) {
	fp := q.Fingerprint()
	if inf, ok := e.cachedInfra(ctx, fp); ok {
		e.metrics.CacheLookups.WithLabelValues("overpass", "hit").Inc()
		return inf, nil
	}
	e.metrics.CacheLookups.WithLabelValues("overpass", "miss").Inc()

	v, err, _ := e.flight.Do(fp, func() (any, error) {
		if inf, ok := e.cachedInfra(ctx, fp); ok {
			return inf, nil
		}
		inf, err := e.infra.FetchInfrastructure(ctx, q)
		if err != nil {
			return nil, err
		}
		e.storePayload(ctx, fp, inf)
		return inf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Infrastructure), nil
}

func (e *Enricher) cachedWeather(ctx context.Context, fp string) (*domain.Weather, bool) {
	payload, ok := e.cache.Get(ctx, fp)
	if !ok {
		return nil, false
	}
	var w domain.Weather
	if err := json.Unmarshal(payload, &w); err != nil {
		e.logger.Warn("corrupt cache payload treated as miss", "fingerprint", fp, "error", err)
		return nil, false
	}
	return &w, true
}

func (e *Enricher) cachedInfra(ctx context.Context, fp string) (*domain.Infrastructure, bool) {
	payload, ok := e.cache.Get(ctx, fp)
	if !ok {
		return nil, false
	}
	var inf domain.Infrastructure
	if err := json.Unmarshal(payload, &inf); err != nil {
		e.logger.Warn("corrupt cache payload treated as miss", "fingerprint", fp, "error", err)
		return nil, false
	}
	return &inf, true
}

// storePayload writes a fetched payload back to the cache. Write failures are
// counted and logged but never fail the record; the fetch already succeeded.
func (e *Enricher) storePayload(ctx context.Context, fp string, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = e.cache.Put(ctx, fp, payload)
	}
	if err != nil {
		e.metrics.CacheWriteErrors.Inc()
		e.logger.Warn("cache write failed", "fingerprint", fp, "error", err)
	}
}
