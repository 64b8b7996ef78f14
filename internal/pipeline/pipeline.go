// Package pipeline orchestrates one hype-index run: fetch every enabled
// source concurrently through the cache, align the survivors onto the query's
// bucket grid, and derive the composite series. Individual source failures
// degrade the result instead of aborting it; a run fails only when the query
// is invalid or every source comes back empty-handed.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/hypetrack/internal/align"
	"github.com/rewired-gh/hypetrack/internal/cache"
	"github.com/rewired-gh/hypetrack/internal/config"
	"github.com/rewired-gh/hypetrack/internal/fetch"
	"github.com/rewired-gh/hypetrack/internal/hype"
	"github.com/rewired-gh/hypetrack/internal/logger"
	"github.com/rewired-gh/hypetrack/internal/models"
	"github.com/rewired-gh/hypetrack/internal/sources"
)

// Result is the full output of one run: the derived hype series plus the
// intermediate per-source data needed for exports and diagnostics.
type Result struct {
	RunID string
	Query models.Query
	Hype  models.HypeSeries
	// Bucketed holds each surviving source's aggregated, gap-filled values
	// in native units, one per bucket.
	Bucketed map[models.SourceID][]float64
	// Errors records sources that failed to produce data this run.
	Errors map[models.SourceID]error
}

// Pipeline wires the configured source adapters to the cache store.
type Pipeline struct {
	cfg      *config.Config
	store    *cache.Store
	adapters []sources.Adapter
}

// New builds a pipeline from the configuration, instantiating one adapter
// per enabled source.
func New(cfg *config.Config, store *cache.Store) *Pipeline {
	var adapters []sources.Adapter

	newClient := func(id models.SourceID, sc config.SourceConfig) *fetch.Client {
		return fetch.NewClient(id, fetch.Options{
			Timeout:        sc.Timeout,
			MaxRetries:     sc.MaxRetries,
			RetryDelayBase: sc.RetryDelayBase,
			MaxBackoff:     sc.MaxBackoff,
			MinInterval:    sc.MinInterval,
		})
	}

	if sc := cfg.Sources.Scholar; sc.Enabled {
		adapters = append(adapters, sources.NewScholar(newClient(models.SourceScholar, sc), sc.BaseURL))
	}
	if sc := cfg.Sources.Trends; sc.Enabled {
		adapters = append(adapters, sources.NewTrends(newClient(models.SourceTrends, sc), sc.BaseURL))
	}
	if sc := cfg.Sources.Arxiv; sc.Enabled {
		adapters = append(adapters, sources.NewArxiv(newClient(models.SourceArxiv, sc), sc.BaseURL))
	}
	if cfg.Sources.Corpus.Enabled {
		adapters = append(adapters, sources.NewCorpus(&sources.DirCorpus{
			Dir:  cfg.Corpus.Dir,
			Glob: cfg.Corpus.Glob,
		}))
	}

	return &Pipeline{cfg: cfg, store: store, adapters: adapters}
}

// Adapters returns the enabled adapters in construction order.
func (p *Pipeline) Adapters() []sources.Adapter {
	return p.adapters
}

// Run executes the query against every enabled source. refresh bypasses
// cached entries and forces upstream fetches. The returned Result carries
// per-source errors for sources that failed; Run itself errors only on an
// invalid query or when no source produced any data.
func (p *Pipeline) Run(ctx context.Context, q models.Query, refresh bool) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	runID := uuid.New().String()
	logger.Info("run %s: fetching %q over %s to %s across %d sources",
		runID, q.Term, q.Start.Format("2006-01-02"), q.End.Format("2006-01-02"), len(p.adapters))

	var (
		mu      sync.Mutex
		raw     = make(map[models.SourceID]models.RawSeries)
		srcErrs = make(map[models.SourceID]error)
	)
	g, gctx := errgroup.WithContext(ctx)

	for _, adapter := range p.adapters {
		adapter := adapter
		g.Go(func() error {
			id := adapter.ID()
			key, err := adapter.CacheKey(q)
			if err != nil {
				mu.Lock()
				srcErrs[id] = err
				mu.Unlock()
				logger.Warn("run %s: %s unavailable: %v", runID, id, err)
				return nil
			}

			ttl := p.cfg.Sources.ForID(id).CacheTTL
			series, err := p.store.GetOrFetch(gctx, id, key, ttl, refresh, func(fctx context.Context) (models.RawSeries, error) {
				return adapter.Series(fctx, q)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				srcErrs[id] = err
				logger.Warn("run %s: %s failed: %v", runID, id, err)
				return nil
			}
			raw[id] = series
			return nil
		})
	}
	// Worker funcs never return errors; per-source failures are collected.
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rules := make(map[models.SourceID]align.Rule, len(p.adapters))
	requested := make([]models.SourceID, 0, len(p.adapters))
	for _, adapter := range p.adapters {
		id := adapter.ID()
		requested = append(requested, id)
		gap, err := align.ParseGapPolicy(p.cfg.Sources.ForID(id).GapPolicy)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}
		rules[id] = align.Rule{Aggregate: adapter.Aggregation(), Gap: gap}
	}

	aligned, err := align.Align(q, raw, rules)
	if err != nil {
		return nil, err
	}
	if len(aligned) == 0 {
		return nil, fmt.Errorf("run %s: no source produced data for %q", runID, q.Term)
	}

	h, err := hype.Compute(q, aligned, requested)
	if err != nil {
		return nil, err
	}

	bucketed := make(map[models.SourceID][]float64, len(aligned))
	for id := range aligned {
		vals, err := align.Bucketed(q, raw[id], rules[id])
		if err != nil {
			return nil, err
		}
		bucketed[id] = vals
	}

	logger.Info("run %s: %d/%d sources available, peak bucket %d",
		runID, len(aligned), len(p.adapters), h.PeakBucket)

	return &Result{
		RunID:    runID,
		Query:    q,
		Hype:     h,
		Bucketed: bucketed,
		Errors:   srcErrs,
	}, nil
}
