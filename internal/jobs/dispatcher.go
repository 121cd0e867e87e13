package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/eda"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/prediction"
	"github.com/KaramelBytes/tabforge/internal/trainer"
)

// Dispatcher turns PENDING rows into queued tasks.
type Dispatcher struct {
	queue     *Queue
	repos     domain.Repositories
	analyzer  *eda.Analyzer
	trainer   *trainer.Trainer
	predictor *prediction.Service
	interval  time.Duration
}

func NewDispatcher(q *Queue, repos domain.Repositories, a *eda.Analyzer, t *trainer.Trainer, p *prediction.Service, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{queue: q, repos: repos, analyzer: a, trainer: t, predictor: p, interval: interval}
}

// Poll submits every pending row once and returns how many were queued.
// A full queue stops the pass; the rest is picked up next time.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	sources := []struct {
		repo domain.RunRepository
		task func(id string) Task
	}{
		{d.repos.EDAResults, func(id string) Task { return EDATask(d.analyzer, d.repos, id) }},
		{d.repos.Jobs, func(id string) Task { return TrainingTask(d.trainer, d.repos, id) }},
		{d.repos.Predictions, func(id string) Task { return PredictionTask(d.predictor, d.repos, id) }},
	}
	var result *multierror.Error
	submitted := 0
	for _, src := range sources {
		ids, err := src.repo.Pending(ctx)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, id := range ids {
			err := d.queue.Submit(src.task(id))
			if errors.Is(err, ErrQueueFull) {
				return submitted, result.ErrorOrNil()
			}
			if err != nil {
				return submitted, multierror.Append(result, err).ErrorOrNil()
			}
			submitted++
		}
	}
	return submitted, result.ErrorOrNil()
}

// Run polls until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if n, err := d.Poll(ctx); err != nil {
			logger.Warnf("Dispatch poll failed: %v", err)
		} else if n > 0 {
			logger.Debugf("Dispatched %d pending rows", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
