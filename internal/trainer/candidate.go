package trainer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/tabforge/internal/artifact"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/evaluator"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
	"github.com/KaramelBytes/tabforge/internal/ml"
)

const bundleContentType = "application/msgpack"

func (t *Trainer) trainCandidate(ctx context.Context, r *run, c ml.Candidate) (*domain.TrainedModel, error) {
	log := logger.WithTrainingJob(r.job.ID, r.job.DatasetID).With("algorithm", c.Algorithm)
	start := t.now()

	xTrain, err := r.pre.Transform(r.train)
	if err != nil {
		return nil, err
	}
	model, err := ml.Fit(ctx, c.Algorithm, r.job.TaskType, xTrain, r.yTrain, len(r.classes))
	if err != nil {
		return nil, err
	}
	pipeline := &ml.Pipeline{Pre: r.pre, Model: model, Classes: r.classes, TargetKind: r.target}

	xTest, err := r.pre.Transform(r.test)
	if err != nil {
		return nil, err
	}
	m := &domain.TrainedModel{
		ID:                  uuid.NewString(),
		TrainingJobID:       r.job.ID,
		DatasetID:           r.job.DatasetID,
		Name:                c.Name,
		DisplayName:         c.DisplayName,
		Algorithm:           c.Algorithm,
		TaskType:            r.job.TaskType,
		FeatureColumns:      append([]string{}, r.features...),
		TargetColumn:        r.job.TargetColumn,
		InputSchema:         inputSchema(r.frame, r.features),
		PreprocessingParams: r.pre.Params(),
		Metrics:             evaluate(pipeline, xTest, r.yTest),
		Hyperparameters:     c.Hyperparameters,
	}

	m.CrossValScores, err = t.crossValidate(ctx, r, c)
	if err != nil {
		return nil, err
	}
	m.FeatureImportance = featureImportance(model, r.pre.FeatureNames())

	if t.explainer != nil && t.cfg.ComputeSHAP {
		if s, ok := t.explainer.Explain(ctx, pipeline, r.full).Get(); ok {
			m.ShapValues = &s
			log.Infof("SHAP values computed successfully for %s", c.Name)
		}
	}

	bundle := &ml.Bundle{
		Pipeline:       pipeline,
		FeatureColumns: m.FeatureColumns,
		TargetColumn:   m.TargetColumn,
		TaskType:       m.TaskType,
		TrainingDate:   t.now().UTC(),
	}
	if m.ArtifactKey, m.ModelSize, err = t.persist(ctx, r.job.ID, m.ID, bundle); err != nil {
		return nil, err
	}

	elapsed := t.now().Sub(start)
	m.TrainingTime = elapsed.Seconds()
	if err := t.models.Create(ctx, m); err != nil {
		return nil, err
	}
	metrics.CandidateDuration.WithLabelValues(string(c.Algorithm)).Observe(elapsed.Seconds())
	log.Infof("Trained %s in %s", c.DisplayName, elapsed.Round(time.Millisecond))
	return m, nil
}

// evaluate scores the pipeline on the held-out rows.
func evaluate(p *ml.Pipeline, x *mat.Dense, y []float64) domain.Metrics {
	pred := p.Model.Predict(x)
	if p.Model.Task == domain.Regression {
		return evaluator.Regression(y, pred)
	}
	in := evaluator.Classification{
		YTrue:   p.Labels(y),
		YPred:   p.Labels(pred),
		Classes: p.Classes,
	}
	if p.Model.Capabilities().Has(ml.SupportsProbability) {
		if proba, err := p.Model.PredictProba(x); err == nil {
			in.Proba = proba
		}
	}
	return in.Evaluate()
}

// folds picks the cross-validation splits over the full (train then test)
// rows. Classification stratifies with as many folds as the rarest class
// allows and falls back to shuffled K-fold when stratification is
// impossible.
func (t *Trainer) folds(r *run) ([]ml.Fold, error) {
	n := len(r.yFull)
	byRows := clamp(n/5, 2, t.cfg.MaxFolds)
	if r.job.TaskType == domain.Regression {
		return ml.KFold(n, byRows, false, 0)
	}
	labels := make([]string, n)
	counts := map[string]int{}
	for i, v := range r.yFull {
		labels[i] = r.classes[int(v)]
		counts[labels[i]]++
	}
	smallest := n
	for _, c := range counts {
		if c < smallest {
			smallest = c
		}
	}
	folds, err := ml.StratifiedKFold(labels, clamp(smallest, 2, t.cfg.MaxFolds))
	if err == nil {
		return folds, nil
	}
	logger.WithTrainingJob(r.job.ID, r.job.DatasetID).Warnf("Stratified CV failed, using KFold: %v", err)
	return ml.KFold(n, byRows, true, t.cfg.Seed)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// crossValidate refits the preprocessor and estimator on every fold and
// scores weighted F1 (classification) or negative RMSE (regression). Folds
// that fail to fit are skipped.
func (t *Trainer) crossValidate(ctx context.Context, r *run, c ml.Candidate) ([]float64, error) {
	log := logger.WithTrainingJob(r.job.ID, r.job.DatasetID).With("algorithm", c.Algorithm)
	folds, err := t.folds(r)
	if err != nil {
		log.Warnf("Cross-validation skipped: %v", err)
		return []float64{}, nil
	}
	scores := make([]float64, 0, len(folds))
	for i, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, ok, err := t.scoreFold(ctx, r, c, fold)
		if err != nil {
			log.Warnf("Cross-validation fold %d failed: %v", i+1, err)
			continue
		}
		if !ok {
			log.Warnf("Cross-validation fold %d has no finite score", i+1)
			continue
		}
		scores = append(scores, score)
	}
	return scores, nil
}

func (t *Trainer) scoreFold(ctx context.Context, r *run, c ml.Candidate, fold ml.Fold) (float64, bool, error) {
	train, test := r.full.Take(fold.Train), r.full.Take(fold.Test)
	pre, err := ml.FitPreprocessor(train, r.features)
	if err != nil {
		return 0, false, err
	}
	xTrain, err := pre.Transform(train)
	if err != nil {
		return 0, false, err
	}
	xTest, err := pre.Transform(test)
	if err != nil {
		return 0, false, err
	}
	model, err := ml.Fit(ctx, c.Algorithm, r.job.TaskType, xTrain, pick(r.yFull, fold.Train), len(r.classes))
	if err != nil {
		return 0, false, err
	}
	p := &ml.Pipeline{Pre: pre, Model: model, Classes: r.classes, TargetKind: r.target}
	score, ok := foldScore(p, r.job.TaskType, pick(r.yFull, fold.Test), model.Predict(xTest))
	return score, ok, nil
}

// foldScore is weighted F1 or negative RMSE. ok is false when the metric is
// missing or not finite, so the score stays out of stored metrics.
func foldScore(p *ml.Pipeline, task domain.TaskType, yTest, pred []float64) (float64, bool) {
	var score float64
	if task == domain.Regression {
		score = -domain.Value(evaluator.Regression(yTest, pred).RMSE, math.NaN())
	} else {
		in := evaluator.Classification{YTrue: p.Labels(yTest), YPred: p.Labels(pred)}
		score = domain.Value(in.Evaluate().F1Weighted, 0)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, false
	}
	return score, true
}

// featureImportance names the model's importances after the transformed
// features; models without importances get an empty map.
func featureImportance(m *ml.Model, names []string) map[string]float64 {
	out := map[string]float64{}
	imp, ok := m.Importance()
	if !ok {
		return out
	}
	for j, name := range names {
		if j < len(imp) {
			out[name] = imp[j]
		}
	}
	return out
}

// inputSchema describes every feature column of the full dataset for
// prediction-time validation.
func inputSchema(f *dataset.Frame, features []string) map[string]domain.InputField {
	out := make(map[string]domain.InputField, len(features))
	for _, name := range features {
		c, ok := f.Column(name)
		if !ok {
			continue
		}
		dtype := domain.ColumnCategorical
		if c.IsNumeric() {
			dtype = domain.ColumnNumeric
		}
		out[name] = domain.InputField{Dtype: dtype, Nullable: c.NullCount() > 0}
	}
	return out
}

func (t *Trainer) persist(ctx context.Context, jobID, modelID string, b *ml.Bundle) (string, int64, error) {
	data, err := b.Encode()
	if err != nil {
		return "", 0, err
	}
	key := artifact.ModelKey(jobID, modelID)
	if err := t.store.Put(ctx, key, data, bundleContentType); err != nil {
		return "", 0, fmt.Errorf("store model artifact: %w", err)
	}
	size, err := t.store.Stat(ctx, key)
	if err != nil {
		return "", 0, fmt.Errorf("stat model artifact: %w", err)
	}
	return key, size, nil
}
