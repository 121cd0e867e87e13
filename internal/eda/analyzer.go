// Package eda computes exploratory statistics for a dataset and caches the
// result by file content hash.
package eda

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/insights"
	"github.com/KaramelBytes/tabforge/internal/lifecycle"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
	"github.com/KaramelBytes/tabforge/internal/optional"
)

// TimeLimitMessage is recorded on results killed by the time limit.
const TimeLimitMessage = "time limit exceeded"

// CancelledMessage is recorded on results whose run was cancelled.
const CancelledMessage = "cancelled"

// Narrator writes the free-text narrative of a completed analysis.
type Narrator interface {
	EDAInsights(ctx context.Context, r *domain.EDAResult) optional.Result[string]
}

type Options struct {
	// ForceRefresh bypasses the cache and always creates a new result.
	ForceRefresh bool
	// Result is a pending row created ahead of time, e.g. by an async
	// submission. When nil a new row is created.
	Result *domain.EDAResult
}

type Analyzer struct {
	datasets domain.DatasetRepository
	results  domain.EDAResultRepository
	cfg      config.EDA
	narrator Narrator
	group    singleflight.Group
	now      func() time.Time
}

type Option func(*Analyzer)

// WithNarrator enables the AI narrative when cfg.Narrative is set.
func WithNarrator(n Narrator) Option {
	return func(a *Analyzer) { a.narrator = n }
}

func New(repos domain.Repositories, cfg config.EDA, opts ...Option) *Analyzer {
	a := &Analyzer{
		datasets: repos.Datasets,
		results:  repos.EDAResults,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze returns the cached result for d's content or computes a new one.
func (a *Analyzer) Analyze(ctx context.Context, d *domain.Dataset, opt Options) (*domain.EDAResult, error) {
	if d.FileHash == "" {
		hash, err := dataset.HashFile(d.FilePath)
		if err != nil {
			return nil, errs.Wrap(errs.CodeFileParsing, err, "Failed to hash file").WithMeta("dataset_id", d.ID)
		}
		d.FileHash = hash
		if err := a.datasets.Update(ctx, d); err != nil {
			return nil, err
		}
	}
	key := d.FileHash

	if opt.ForceRefresh {
		return a.compute(ctx, d, opt.Result)
	}
	if cached := a.cached(ctx, d, key); cached != nil {
		if opt.Result != nil {
			return a.complete(ctx, opt.Result, cached)
		}
		return cached, nil
	}
	if opt.Result != nil {
		return a.compute(ctx, d, opt.Result)
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		if cached := a.cached(ctx, d, key); cached != nil {
			return cached, nil
		}
		return a.compute(ctx, d, nil)
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*domain.EDAResult)
	return &cp, nil
}

// Submit prepares an asynchronous analysis. A cached result is returned with
// done set; otherwise a PENDING row is created for a worker to pick up.
func (a *Analyzer) Submit(ctx context.Context, d *domain.Dataset, forceRefresh bool) (r *domain.EDAResult, done bool, err error) {
	if d.FileHash == "" {
		if d.FileHash, err = dataset.HashFile(d.FilePath); err != nil {
			return nil, false, errs.Wrap(errs.CodeFileParsing, err, "Failed to hash file").WithMeta("dataset_id", d.ID)
		}
		if err := a.datasets.Update(ctx, d); err != nil {
			return nil, false, err
		}
	}
	if !forceRefresh {
		if cached := a.cached(ctx, d, d.FileHash); cached != nil {
			return cached, true, nil
		}
	}
	r = &domain.EDAResult{ID: uuid.NewString(), DatasetID: d.ID, Status: domain.StatusPending}
	if err := a.results.Create(ctx, r); err != nil {
		return nil, false, err
	}
	logger.WithDataset(d.ID).Infof("Queued EDA result %s for dataset %s", r.ID, d.ID)
	return r, false, nil
}

func (a *Analyzer) cached(ctx context.Context, d *domain.Dataset, key string) *domain.EDAResult {
	r, err := a.results.LatestCompletedByCacheKey(ctx, key)
	if err != nil {
		logger.WithDataset(d.ID).Warnf("Cache lookup failed: %v", err)
		return nil
	}
	if r == nil {
		return nil
	}
	metrics.EDACacheHitCount.Inc()
	logger.WithDataset(d.ID).Infof("Returning cached EDA result %s for dataset %s", r.ID, d.ID)
	return r
}

// complete finishes the caller's pending row r with the content of cached so
// it does not stay PENDING.
func (a *Analyzer) complete(ctx context.Context, r, cached *domain.EDAResult) (*domain.EDAResult, error) {
	status, err := lifecycle.Next(ctx, r.Status, lifecycle.EventStart)
	if err != nil {
		return nil, err
	}
	status, err = lifecycle.Next(ctx, status, lifecycle.EventComplete)
	if err != nil {
		return nil, err
	}
	cp := *cached
	cp.ID, cp.DatasetID, cp.Version = r.ID, r.DatasetID, r.Version
	cp.Status, cp.CreatedAt, cp.HeartbeatAt = status, r.CreatedAt, nil
	if err := a.results.Update(ctx, &cp); err != nil {
		return nil, err
	}
	*r = cp
	return r, nil
}

func (a *Analyzer) compute(ctx context.Context, d *domain.Dataset, r *domain.EDAResult) (*domain.EDAResult, error) {
	log := logger.WithDataset(d.ID)
	start := a.now()

	if r == nil {
		r = &domain.EDAResult{ID: uuid.NewString(), DatasetID: d.ID, Status: domain.StatusPending}
		if err := a.results.Create(ctx, r); err != nil {
			return nil, err
		}
	}
	status, err := lifecycle.Next(ctx, r.Status, lifecycle.EventStart)
	if err != nil {
		return nil, err
	}
	r.Status = status
	beat := a.now()
	r.HeartbeatAt = &beat
	if err := a.results.Update(ctx, r); err != nil {
		return nil, err
	}

	if err := a.run(ctx, d, r); err != nil {
		return nil, a.fail(ctx, d, r, err)
	}

	r.CacheKey = d.FileHash
	r.ComputationTime = a.now().Sub(start).Seconds()
	r.Status, _ = lifecycle.Next(ctx, r.Status, lifecycle.EventComplete)
	if err := a.results.Update(context.WithoutCancel(ctx), r); err != nil {
		return nil, err
	}
	metrics.EDARunCount.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.EDADuration.Observe(r.ComputationTime)
	log.Infof("EDA completed for dataset %s in %.2fs", d.ID, r.ComputationTime)
	return r, nil
}

func (a *Analyzer) run(ctx context.Context, d *domain.Dataset, r *domain.EDAResult) error {
	if a.cfg.TimeLimitSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.TimeLimit())
		defer cancel()
	}

	f, err := dataset.Load(d.FilePath, dataset.LoadOptions{})
	if err != nil {
		return err
	}
	r.RowCount, r.ColumnCount = f.Rows(), f.Width()
	if a.cfg.MaxRowsFull > 0 && f.Rows() > a.cfg.MaxRowsFull {
		f = dataset.Sample(f, a.cfg.SampleSize, a.cfg.Seed)
		r.Sampled = true
		r.SampleSize = f.Rows()
		logger.WithDataset(d.ID).Infof("Sampled dataset to %d rows", r.SampleSize)
	}

	if err := profile(ctx, r, f, a.cfg.HistogramBins, a.cfg.MaxCategories); err != nil {
		return err
	}
	r.Insights = insights.Generate(r, f)

	if a.narrator != nil && a.cfg.Narrative {
		r.AINarrative = a.narrator.EDAInsights(ctx, r).OrElse("")
	}
	return ctx.Err()
}

// fail records cause on r and returns the typed error surfaced to callers.
func (a *Analyzer) fail(ctx context.Context, d *domain.Dataset, r *domain.EDAResult, cause error) error {
	ctx = context.WithoutCancel(ctx)
	code, outcome, msg := errs.CodeEDA, metrics.OutcomeFailure, cause.Error()
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		code, outcome, msg = errs.CodeTimeout, metrics.OutcomeTimeout, TimeLimitMessage
	case errors.Is(cause, context.Canceled):
		// EDA results have no cancelled state.
		msg = CancelledMessage
	}

	if status, err := lifecycle.Next(ctx, r.Status, lifecycle.EventFail); err == nil {
		r.Status = status
	} else {
		r.Status = domain.StatusError
	}
	r.ErrorMessage = msg
	if err := a.results.Update(ctx, r); err != nil {
		logger.WithDataset(d.ID).Errorf("Failed to record EDA error: %v", err)
	}
	metrics.EDARunCount.WithLabelValues(outcome).Inc()
	logger.WithDataset(d.ID).Errorf("EDA failed for dataset %s: %s", d.ID, msg)
	return errs.Wrap(code, cause, "EDA computation failed").WithMeta("dataset_id", d.ID)
}
