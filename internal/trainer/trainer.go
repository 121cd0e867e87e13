// Package trainer runs training jobs: it fits every candidate algorithm on a
// shared preprocessing of the dataset, evaluates and persists each one, and
// marks the best.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/KaramelBytes/tabforge/internal/artifact"
	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/evaluator"
	"github.com/KaramelBytes/tabforge/internal/explainer"
	"github.com/KaramelBytes/tabforge/internal/lifecycle"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
	"github.com/KaramelBytes/tabforge/internal/ml"
)

// Step names recorded on the job while it runs.
const (
	StepLoading    = "Loading data"
	StepSplitting  = "Splitting data"
	StepPreprocess = "Building preprocessor"
	StepTraining   = "Training models"
	StepSelecting  = "Selecting best model"
	StepComplete   = "Complete"
)

// TimeLimitMessage is recorded on jobs killed by the time limit.
const TimeLimitMessage = "time limit exceeded"

type Trainer struct {
	datasets  domain.DatasetRepository
	jobs      domain.TrainingJobRepository
	models    domain.TrainedModelRepository
	store     artifact.Store
	cfg       config.Training
	explainer *explainer.Explainer
	now       func() time.Time
}

type Option func(*Trainer)

// WithExplainer attaches SHAP summaries to trained models when
// cfg.ComputeSHAP is set.
func WithExplainer(e *explainer.Explainer) Option {
	return func(t *Trainer) { t.explainer = e }
}

func New(repos domain.Repositories, store artifact.Store, cfg config.Training, opts ...Option) *Trainer {
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		cfg.TestSize = 0.2
	}
	if cfg.MaxFolds < 2 {
		cfg.MaxFolds = 5
	}
	t := &Trainer{
		datasets: repos.Datasets,
		jobs:     repos.Jobs,
		models:   repos.Models,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// run holds the data shared by every candidate of one job.
type run struct {
	job      *domain.TrainingJob
	frame    *dataset.Frame
	train    *dataset.Frame
	test     *dataset.Frame
	full     *dataset.Frame // train rows then test rows
	yTrain   []float64
	yTest    []float64
	yFull    []float64
	classes  []string
	target   dataset.Kind
	pre      *ml.Preprocessor
	features []string
}

// Train executes job synchronously. On failure the job is left in ERROR
// (or CANCELLED) with its message, and a TRAINING_ERROR is returned.
func (t *Trainer) Train(ctx context.Context, job *domain.TrainingJob) (*domain.TrainingJob, error) {
	log := logger.WithTrainingJob(job.ID, job.DatasetID)

	status, err := lifecycle.Next(ctx, job.Status, lifecycle.EventStart)
	if err != nil {
		return nil, err
	}
	job.Status = status
	started := t.now()
	job.StartedAt = &started
	if err := t.step(ctx, job, StepLoading, 0); err != nil {
		return nil, err
	}

	models, err := t.train(ctx, job)
	if err != nil {
		return nil, t.fail(ctx, job, err)
	}

	if err := t.step(ctx, job, StepSelecting, 90); err != nil {
		return nil, t.fail(ctx, job, err)
	}
	best, err := t.SelectBest(ctx, job, models)
	if err != nil {
		return nil, t.fail(ctx, job, err)
	}

	job.BestModelID = best.ID
	job.Status, _ = lifecycle.Next(ctx, job.Status, lifecycle.EventComplete)
	done := t.now()
	job.CompletedAt = &done
	if err := t.step(context.WithoutCancel(ctx), job, StepComplete, 100); err != nil {
		return nil, err
	}
	metrics.TrainingJobCount.WithLabelValues(string(job.TaskType), metrics.OutcomeSuccess).Inc()
	log.Infof("Training completed for job %s: best model %s (%s)", job.ID, best.ID, best.Algorithm)
	return job, nil
}

func (t *Trainer) step(ctx context.Context, job *domain.TrainingJob, name string, progress int) error {
	job.CurrentStep = name
	if progress > job.Progress {
		job.Progress = progress
	}
	beat := t.now()
	job.HeartbeatAt = &beat
	return t.jobs.Update(ctx, job)
}

func (t *Trainer) train(ctx context.Context, job *domain.TrainingJob) ([]*domain.TrainedModel, error) {
	log := logger.WithTrainingJob(job.ID, job.DatasetID)

	d, err := t.datasets.Get(ctx, job.DatasetID)
	if err != nil {
		return nil, err
	}
	f, err := dataset.Load(d.FilePath, dataset.LoadOptions{})
	if err != nil {
		return nil, err
	}
	r := &run{job: job, frame: f}
	if err := t.prepare(ctx, r); err != nil {
		return nil, err
	}

	if err := t.step(ctx, job, StepSplitting, 10); err != nil {
		return nil, err
	}
	if err := t.split(r); err != nil {
		return nil, err
	}

	if err := t.step(ctx, job, StepPreprocess, 20); err != nil {
		return nil, err
	}
	if r.pre, err = ml.FitPreprocessor(r.train, r.features); err != nil {
		return nil, err
	}

	if err := t.step(ctx, job, StepTraining, 30); err != nil {
		return nil, err
	}
	candidates := ml.Candidates(job.TaskType)
	var trained []*domain.TrainedModel
	var failures *multierror.Error
	for i, c := range candidates {
		if err := t.step(ctx, job, "Training "+c.DisplayName, 30+60*(i+1)/len(candidates)); err != nil {
			return nil, err
		}
		m, err := t.trainCandidate(ctx, r, c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.CandidateFailureCount.WithLabelValues(string(c.Algorithm)).Inc()
			log.Warnf("Failed to train %s: %v", c.Name, err)
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		trained = append(trained, m)
	}
	if len(trained) == 0 {
		failures.ErrorFormat = joinErrors
		return nil, errs.Wrap(errs.CodeTraining, failures.ErrorOrNil(), "All models failed to train")
	}
	return trained, nil
}

// prepare validates the target and features and resolves the task type.
func (t *Trainer) prepare(ctx context.Context, r *run) error {
	job := r.job
	target, ok := r.frame.Column(job.TargetColumn)
	if !ok {
		return errs.Newf(errs.CodeTraining, "Target column %q not found in dataset", job.TargetColumn)
	}
	dirty := false
	if len(job.FeatureColumns) > 0 {
		var missing []string
		for _, name := range job.FeatureColumns {
			if _, ok := r.frame.Column(name); !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return errs.Newf(errs.CodeTraining, "Feature columns not found: %s", strings.Join(missing, ", ")).
				WithMeta("missing_columns", missing)
		}
	} else {
		for _, name := range r.frame.Names() {
			if name != job.TargetColumn {
				job.FeatureColumns = append(job.FeatureColumns, name)
			}
		}
		dirty = true
	}
	for _, name := range job.FeatureColumns {
		if name == job.TargetColumn {
			return errs.Validation("target column %q cannot also be a feature", name)
		}
	}
	if len(job.FeatureColumns) == 0 {
		return errs.Validation("no feature columns to train on")
	}
	r.features = job.FeatureColumns

	task, auto, err := ml.ResolveTaskType(job.TaskType, target)
	if err != nil {
		return err
	}
	if task != job.TaskType {
		job.TaskType, job.TaskTypeAutoDetected = task, auto
		dirty = true
	}
	if task == domain.Regression && !target.IsNumeric() {
		return errs.Newf(errs.CodeTraining, "Target column %q must be numeric for regression", job.TargetColumn)
	}
	if dirty {
		return t.jobs.Update(ctx, job)
	}
	return nil
}

// split drops rows with a null target and splits the rest into train and
// test sets.
func (t *Trainer) split(r *run) error {
	f := r.frame.DropNull(r.job.TargetColumn)
	target, _ := f.Column(r.job.TargetColumn)
	r.target = target.Kind

	var y []float64
	if r.job.TaskType == domain.Classification {
		y, r.classes = ml.EncodeClasses(target)
		if len(r.classes) < 2 {
			return errs.Newf(errs.CodeTraining, "Target column %q needs at least 2 classes, found %d", r.job.TargetColumn, len(r.classes))
		}
	} else {
		y = target.Floats()
	}

	trainIdx, testIdx, err := ml.TrainTestSplit(f.Rows(), t.cfg.TestSize, t.cfg.Seed)
	if err != nil {
		return errs.Wrap(errs.CodeTraining, err, "Not enough rows to split")
	}
	fullIdx := append(append([]int{}, trainIdx...), testIdx...)
	r.train, r.test, r.full = f.Take(trainIdx), f.Take(testIdx), f.Take(fullIdx)
	r.yTrain, r.yTest, r.yFull = pick(y, trainIdx), pick(y, testIdx), pick(y, fullIdx)
	return nil
}

func joinErrors(list []error) string {
	parts := make([]string, len(list))
	for i, err := range list {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func pick(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}

// fail records cause on the job and returns the typed error surfaced to
// callers.
func (t *Trainer) fail(ctx context.Context, job *domain.TrainingJob, cause error) error {
	ctx = context.WithoutCancel(ctx)
	event, outcome, msg := lifecycle.EventFail, metrics.OutcomeFailure, message(cause)
	code := errs.CodeTraining
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		code, outcome, msg = errs.CodeTimeout, metrics.OutcomeTimeout, TimeLimitMessage
	case errors.Is(cause, context.Canceled):
		event, msg = lifecycle.EventCancel, "cancelled"
	}
	if status, err := lifecycle.Next(ctx, job.Status, event); err == nil {
		job.Status = status
	} else {
		job.Status = domain.StatusError
	}
	job.ErrorMessage = msg
	done := t.now()
	job.CompletedAt = &done
	if err := t.jobs.Update(ctx, job); err != nil {
		logger.WithTrainingJob(job.ID, job.DatasetID).Errorf("Failed to record training error: %v", err)
	}
	metrics.TrainingJobCount.WithLabelValues(string(job.TaskType), outcome).Inc()
	logger.WithTrainingJob(job.ID, job.DatasetID).Errorf("Training failed for job %s: %s", job.ID, msg)
	return errs.Newf(code, "Training failed: %s", msg).WithMeta("job_id", job.ID)
}

// message is the human-readable detail of err without its code prefix.
func message(err error) string {
	var e *errs.Error
	if errors.As(err, &e) && e.Detail != "" {
		if e.Err != nil {
			return e.Detail + ": " + e.Err.Error()
		}
		return e.Detail
	}
	return err.Error()
}

// SelectBest ranks the trained models, flags exactly one as best and
// persists ranks and flags in one repository call.
func (t *Trainer) SelectBest(ctx context.Context, job *domain.TrainingJob, models []*domain.TrainedModel) (*domain.TrainedModel, error) {
	if len(models) == 0 {
		return nil, errs.New(errs.CodeTraining, "no trained models to select from")
	}
	byID := make(map[string]*domain.TrainedModel, len(models))
	entries := make([]evaluator.Entry, 0, len(models))
	for _, m := range models {
		byID[m.ID] = m
		entries = append(entries, evaluator.Entry{ID: m.ID, Metrics: m.Metrics})
	}
	ranked := evaluator.Compare(job.TaskType, entries)
	ranks := make(map[string]int, len(ranked))
	for _, e := range ranked {
		ranks[e.ID] = e.Rank
		byID[e.ID].Rank = e.Rank
		byID[e.ID].IsBest = e.IsBest
	}
	best := byID[ranked[0].ID]
	if err := t.models.MarkBest(ctx, job.ID, best.ID, ranks); err != nil {
		return nil, err
	}
	return best, nil
}
