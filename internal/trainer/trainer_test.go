package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/artifact"
	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/explainer"
	"github.com/KaramelBytes/tabforge/internal/ml"
	"github.com/KaramelBytes/tabforge/internal/store/memstore"
)

var testConfig = config.Training{TestSize: 0.2, Seed: 42, MaxFolds: 5, ComputeSHAP: true}

type fixture struct {
	repos   domain.Repositories
	store   artifact.Store
	trainer *Trainer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memstore.New().Repositories()
	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	tr := New(repos, store, testConfig, WithExplainer(explainer.New(config.Explainer{Seed: 42})))
	return &fixture{repos: repos, store: store, trainer: tr}
}

func (fx *fixture) dataset(t *testing.T, content string) *domain.Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	d := &domain.Dataset{ID: "ds-" + t.Name(), FilePath: path}
	_, err := dataset.Parse(d, dataset.LoadOptions{})
	require.NoError(t, err)
	require.NoError(t, fx.repos.Datasets.Create(context.Background(), d))
	return d
}

func (fx *fixture) job(t *testing.T, d *domain.Dataset, target string, features []string, task domain.TaskType) *domain.TrainingJob {
	t.Helper()
	j := &domain.TrainingJob{
		ID:             "job-" + t.Name(),
		DatasetID:      d.ID,
		TargetColumn:   target,
		FeatureColumns: features,
		TaskType:       task,
		Status:         domain.StatusPending,
	}
	require.NoError(t, fx.repos.Jobs.Create(context.Background(), j))
	return j
}

func classificationCSV(n int) string {
	rng := rand.New(rand.NewSource(3))
	var b strings.Builder
	b.WriteString("size,color,churn\n")
	colors := []string{"red", "green", "blue"}
	for i := 0; i < n; i++ {
		size := rng.Float64()
		color := colors[i%3]
		label := "no"
		if size > 0.5 {
			label = "yes"
		}
		if i%10 == 0 {
			fmt.Fprintf(&b, ",%s,%s\n", color, label)
			continue
		}
		fmt.Fprintf(&b, "%.4f,%s,%s\n", size, color, label)
	}
	return b.String()
}

func regressionCSV(n int) string {
	rng := rand.New(rand.NewSource(5))
	var b strings.Builder
	b.WriteString("x,group,y\n")
	for i := 0; i < n; i++ {
		x := rng.Float64() * 10
		group := "a"
		offset := 0.0
		if i%2 == 1 {
			group, offset = "b", 5
		}
		fmt.Fprintf(&b, "%.4f,%s,%.4f\n", x, group, 3*x+offset+rng.NormFloat64()*0.1)
	}
	return b.String()
}

func TestTrainClassification(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	d := fx.dataset(t, classificationCSV(80))
	job := fx.job(t, d, "churn", nil, "")

	done, err := fx.trainer.Train(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, StepComplete, done.CurrentStep)
	assert.Equal(t, domain.Classification, done.TaskType)
	assert.True(t, done.TaskTypeAutoDetected)
	assert.Equal(t, []string{"size", "color"}, done.FeatureColumns)
	require.NotNil(t, done.CompletedAt)

	models, err := fx.repos.Models.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, models, 4)
	best := 0
	for _, m := range models {
		if m.IsBest {
			best++
			assert.Equal(t, done.BestModelID, m.ID)
			assert.Equal(t, 1, m.Rank)
		}
		assert.NotNil(t, m.Metrics.Accuracy)
		assert.NotNil(t, m.Metrics.F1Weighted)
		assert.NotEmpty(t, m.CrossValScores)
		assert.Positive(t, m.ModelSize)
		assert.Equal(t, domain.InputField{Dtype: domain.ColumnNumeric, Nullable: true}, m.InputSchema["size"])
		assert.Equal(t, domain.InputField{Dtype: domain.ColumnCategorical}, m.InputSchema["color"])
		assert.Equal(t, []string{"size"}, m.PreprocessingParams.NumericCols)
		if m.Algorithm == domain.AlgoSVM {
			assert.Empty(t, m.FeatureImportance)
		} else {
			assert.Contains(t, m.FeatureImportance, "num__size")
		}
		require.NotNil(t, m.ShapValues, m.Algorithm)
		assert.Equal(t, "num__size", m.ShapValues.TopFeatures[0].Feature)
	}
	assert.Equal(t, 1, best)

	data, err := fx.store.Get(ctx, artifact.ModelKey(job.ID, done.BestModelID))
	require.NoError(t, err)
	bundle, err := ml.DecodeBundle(data)
	require.NoError(t, err)
	assert.Equal(t, "churn", bundle.TargetColumn)
	assert.Equal(t, []string{"no", "yes"}, bundle.Pipeline.Classes)
}

func TestTrainRegression(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	d := fx.dataset(t, regressionCSV(60))
	job := fx.job(t, d, "y", []string{"x", "group"}, domain.Regression)

	done, err := fx.trainer.Train(ctx, job)
	require.NoError(t, err)
	assert.False(t, done.TaskTypeAutoDetected)

	models, err := fx.repos.Models.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, models, 4)
	for _, m := range models {
		assert.NotNil(t, m.Metrics.RMSE)
		assert.Nil(t, m.Metrics.Accuracy)
		for _, s := range m.CrossValScores {
			assert.LessOrEqual(t, s, 0.0, "regression folds score negative RMSE")
		}
		if m.Algorithm == domain.AlgoLinearRegression {
			assert.Greater(t, *m.Metrics.R2, 0.99)
		}
	}
}

func TestTrainValidationFailures(t *testing.T) {
	cases := []struct {
		name     string
		target   string
		features []string
		task     domain.TaskType
		message  string
	}{
		{"missing target", "nope", nil, "", `Target column "nope" not found in dataset`},
		{"missing features", "churn", []string{"size", "ghost"}, "", "Feature columns not found: ghost"},
		{"text target regression", "churn", nil, domain.Regression, `Target column "churn" must be numeric for regression`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			d := fx.dataset(t, classificationCSV(30))
			job := fx.job(t, d, tc.target, tc.features, tc.task)

			_, err := fx.trainer.Train(context.Background(), job)
			require.Error(t, err)
			assert.Equal(t, errs.CodeTraining, errs.CodeOf(err))

			stored, err := fx.repos.Jobs.Get(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusError, stored.Status)
			assert.Equal(t, tc.message, stored.ErrorMessage)
		})
	}
}

func TestTrainCancelled(t *testing.T) {
	fx := newFixture(t)
	d := fx.dataset(t, classificationCSV(40))
	job := fx.job(t, d, "churn", nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.trainer.Train(ctx, job)
	require.Error(t, err)
	stored, err := fx.repos.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
}

func TestFoldScoreSkipsNonFinite(t *testing.T) {
	score, ok := foldScore(nil, domain.Regression, []float64{1, 2}, []float64{1, 4})
	require.True(t, ok)
	assert.InDelta(t, -math.Sqrt(2), score, 1e-12)

	_, ok = foldScore(nil, domain.Regression, nil, nil)
	assert.False(t, ok)
	_, ok = foldScore(nil, domain.Regression, []float64{1, 2}, []float64{math.NaN(), 2})
	assert.False(t, ok)
	_, ok = foldScore(nil, domain.Regression, []float64{1, 2}, []float64{math.Inf(1), 2})
	assert.False(t, ok)

	p := &ml.Pipeline{Classes: []string{"no", "yes"}}
	score, ok = foldScore(p, domain.Classification, []float64{0, 1, 1}, []float64{0, 1, 1})
	require.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-12)
}

func TestSelectBestRegressionPicksLowestRMSE(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	job := &domain.TrainingJob{ID: "j", TaskType: domain.Regression}
	models := []*domain.TrainedModel{
		{ID: "a", TrainingJobID: "j", Metrics: domain.Metrics{RMSE: domain.Float(3)}},
		{ID: "b", TrainingJobID: "j", Metrics: domain.Metrics{RMSE: domain.Float(1)}},
		{ID: "c", TrainingJobID: "j", Metrics: domain.Metrics{RMSE: domain.Float(2)}},
	}
	for _, m := range models {
		require.NoError(t, fx.repos.Models.Create(ctx, m))
	}
	best, err := fx.trainer.SelectBest(ctx, job, models)
	require.NoError(t, err)
	assert.Equal(t, "b", best.ID)
	assert.Equal(t, 3, models[0].Rank)

	stored, err := fx.repos.Models.ListByJob(ctx, "j")
	require.NoError(t, err)
	for _, m := range stored {
		assert.Equal(t, m.ID == "b", m.IsBest)
	}

	_, err = fx.trainer.SelectBest(ctx, job, nil)
	assert.Error(t, err)
}
