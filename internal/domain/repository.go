package domain

import (
	"context"
	"time"
)

// Get methods return an errs.Error with a *_NOT_FOUND code when the row is absent.

type DatasetRepository interface {
	Create(ctx context.Context, d *Dataset) error
	Get(ctx context.Context, id string) (*Dataset, error)
	Update(ctx context.Context, d *Dataset) error
	// Delete removes the dataset and cascades to its results, jobs, models and predictions.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Dataset, error)
}

// RunRepository is implemented by every repository whose rows carry a
// RunStatus and a heartbeat.
type RunRepository interface {
	// Touch refreshes the heartbeat of a running row.
	Touch(ctx context.Context, id string, at time.Time) error
	// FailStale marks RUNNING rows whose heartbeat is older than before as
	// ERROR with message and returns their ids.
	FailStale(ctx context.Context, before time.Time, message string) ([]string, error)
	// Pending returns the ids of PENDING rows, oldest first.
	Pending(ctx context.Context) ([]string, error)
}

type EDAResultRepository interface {
	RunRepository
	// Create assigns the next version number for the dataset.
	Create(ctx context.Context, r *EDAResult) error
	Get(ctx context.Context, id string) (*EDAResult, error)
	Update(ctx context.Context, r *EDAResult) error
	// LatestCompletedByCacheKey returns the most recent COMPLETED result for
	// key, or nil when there is none.
	LatestCompletedByCacheKey(ctx context.Context, key string) (*EDAResult, error)
	// Latest returns the highest version for the dataset, or nil.
	Latest(ctx context.Context, datasetID string) (*EDAResult, error)
	ListByDataset(ctx context.Context, datasetID string) ([]*EDAResult, error)
}

type TrainingJobRepository interface {
	RunRepository
	Create(ctx context.Context, j *TrainingJob) error
	Get(ctx context.Context, id string) (*TrainingJob, error)
	Update(ctx context.Context, j *TrainingJob) error
	ListByDataset(ctx context.Context, datasetID string) ([]*TrainingJob, error)
}

type TrainedModelRepository interface {
	Create(ctx context.Context, m *TrainedModel) error
	Get(ctx context.Context, id string) (*TrainedModel, error)
	Update(ctx context.Context, m *TrainedModel) error
	ListByJob(ctx context.Context, jobID string) ([]*TrainedModel, error)
	// MarkBest sets is_best on modelID and clears it on every other model of
	// the job, and records the ranks, in one step.
	MarkBest(ctx context.Context, jobID, modelID string, ranks map[string]int) error
}

type PredictionJobRepository interface {
	RunRepository
	Create(ctx context.Context, p *PredictionJob) error
	Get(ctx context.Context, id string) (*PredictionJob, error)
	Update(ctx context.Context, p *PredictionJob) error
	ListByModel(ctx context.Context, modelID string) ([]*PredictionJob, error)
}

// Repositories bundles the storage collaborators injected into services.
type Repositories struct {
	Datasets    DatasetRepository
	EDAResults  EDAResultRepository
	Jobs        TrainingJobRepository
	Models      TrainedModelRepository
	Predictions PredictionJobRepository
}
