package jobs

import (
	"context"
	"time"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/eda"
	"github.com/KaramelBytes/tabforge/internal/lifecycle"
	"github.com/KaramelBytes/tabforge/internal/prediction"
	"github.com/KaramelBytes/tabforge/internal/trainer"
)

// EDATask analyzes the dataset of a pending EDA result row. The row was
// created because no cached result existed, so the cache is not consulted
// again.
func EDATask(a *eda.Analyzer, repos domain.Repositories, resultID string) Task {
	return Task{
		Kind: KindEDA,
		ID:   resultID,
		Run: func(ctx context.Context) error {
			r, err := repos.EDAResults.Get(ctx, resultID)
			if err != nil {
				return err
			}
			d, err := repos.Datasets.Get(ctx, r.DatasetID)
			if err != nil {
				return err
			}
			_, err = a.Analyze(ctx, d, eda.Options{Result: r, ForceRefresh: true})
			return err
		},
		Fail: func(ctx context.Context, message string) error {
			r, err := repos.EDAResults.Get(ctx, resultID)
			if err != nil || !lifecycle.Can(r.Status, lifecycle.EventFail) {
				return err
			}
			r.Status, r.ErrorMessage = domain.StatusError, message
			return repos.EDAResults.Update(ctx, r)
		},
	}
}

func TrainingTask(t *trainer.Trainer, repos domain.Repositories, jobID string) Task {
	return Task{
		Kind: KindTraining,
		ID:   jobID,
		Run: func(ctx context.Context) error {
			job, err := repos.Jobs.Get(ctx, jobID)
			if err != nil {
				return err
			}
			_, err = t.Train(ctx, job)
			return err
		},
		Fail: func(ctx context.Context, message string) error {
			job, err := repos.Jobs.Get(ctx, jobID)
			if err != nil || !lifecycle.Can(job.Status, lifecycle.EventFail) {
				return err
			}
			now := time.Now()
			job.Status, job.ErrorMessage, job.CompletedAt = domain.StatusError, message, &now
			return repos.Jobs.Update(ctx, job)
		},
	}
}

// PredictionTask scores a pending prediction job. Only file input survives
// the trip through storage; a pending inline job fails as empty input.
func PredictionTask(s *prediction.Service, repos domain.Repositories, jobID string) Task {
	return Task{
		Kind: KindPrediction,
		ID:   jobID,
		Run: func(ctx context.Context) error {
			job, err := repos.Predictions.Get(ctx, jobID)
			if err != nil {
				return err
			}
			m, err := repos.Models.Get(ctx, job.ModelID)
			if err != nil {
				return err
			}
			_, err = s.Run(ctx, job, m, nil)
			return err
		},
		Fail: func(ctx context.Context, message string) error {
			job, err := repos.Predictions.Get(ctx, jobID)
			if err != nil || !lifecycle.Can(job.Status, lifecycle.EventFail) {
				return err
			}
			now := time.Now()
			job.Status, job.ErrorMessage, job.CompletedAt = domain.StatusError, message, &now
			return repos.Predictions.Update(ctx, job)
		},
	}
}
