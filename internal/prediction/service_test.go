package prediction

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/artifact"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/ml"
	"github.com/KaramelBytes/tabforge/internal/store/memstore"
)

type fixture struct {
	repos domain.Repositories
	store artifact.Store
	svc   *Service
	model *domain.TrainedModel
}

func newFixture(t *testing.T, algo domain.Algorithm) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := memstore.New().Repositories()
	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f, err := dataset.NewFrame(
		dataset.NumericColumn("size", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}),
		dataset.NewColumn("color", []string{"red", "red", "blue", "blue", "red", "blue", "red", "blue", "red", "blue"}),
		dataset.NewColumn("label", []string{"no", "no", "no", "no", "no", "yes", "yes", "yes", "yes", "yes"}),
	)
	require.NoError(t, err)
	features := []string{"size", "color"}
	target, _ := f.Column("label")
	y, classes := ml.EncodeClasses(target)
	pre, err := ml.FitPreprocessor(f, features)
	require.NoError(t, err)
	x, err := pre.Transform(f)
	require.NoError(t, err)
	model, err := ml.Fit(ctx, algo, domain.Classification, x, y, len(classes))
	require.NoError(t, err)

	bundle := &ml.Bundle{
		Pipeline:       &ml.Pipeline{Pre: pre, Model: model, Classes: classes, TargetKind: target.Kind},
		FeatureColumns: features,
		TargetColumn:   "label",
		TaskType:       domain.Classification,
		TrainingDate:   time.Now().UTC(),
	}
	data, err := bundle.Encode()
	require.NoError(t, err)
	key := artifact.ModelKey("job", "model")
	require.NoError(t, store.Put(ctx, key, data, "application/msgpack"))

	m := &domain.TrainedModel{
		ID:             "model",
		TrainingJobID:  "job",
		Algorithm:      algo,
		TaskType:       domain.Classification,
		FeatureColumns: features,
		TargetColumn:   "label",
		InputSchema: map[string]domain.InputField{
			"size":  {Dtype: domain.ColumnNumeric},
			"color": {Dtype: domain.ColumnCategorical},
		},
		ArtifactKey: key,
	}
	require.NoError(t, repos.Models.Create(ctx, m))
	return &fixture{repos: repos, store: store, svc: New(repos, store), model: m}
}

func TestPredictInline(t *testing.T) {
	fx := newFixture(t, domain.AlgoLogisticRegression)
	res, err := fx.svc.Predict(context.Background(), fx.model, []map[string]any{
		{"size": 1.0, "color": "red", "extra": "ignored"},
		{"size": "10", "color": "blue"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{"no", "yes"}, res.Predictions)
	require.Len(t, res.Probabilities, 2)
	assert.InDelta(t, 1.0, res.Probabilities[0]["no"]+res.Probabilities[0]["yes"], 1e-9)
	assert.Greater(t, res.Probabilities[1]["yes"], 0.5)

	res, err = fx.svc.Predict(context.Background(), fx.model, []map[string]any{{"size": 2, "color": "red"}}, false)
	require.NoError(t, err)
	assert.Nil(t, res.Probabilities)
}

func TestPredictValidation(t *testing.T) {
	fx := newFixture(t, domain.AlgoRandomForest)
	ctx := context.Background()

	_, err := fx.svc.Predict(ctx, fx.model, nil, false)
	assert.Equal(t, errs.CodeEmptyInput, errs.CodeOf(err))

	_, err = fx.svc.Predict(ctx, fx.model, []map[string]any{{"other": 1}}, false)
	require.Error(t, err)
	assert.Equal(t, errs.CodeMissingColumns, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "color, size")
}

func TestPredictCoercesNumericText(t *testing.T) {
	fx := newFixture(t, domain.AlgoRandomForest)
	f, err := Validate(fx.model, []map[string]any{{"size": "abc", "color": "green"}})
	require.NoError(t, err)
	size, _ := f.Column("size")
	assert.True(t, size.IsNumeric())
	assert.True(t, size.IsNull(0))

	res, err := fx.svc.Predict(context.Background(), fx.model, []map[string]any{{"size": "abc", "color": "green"}}, true)
	require.NoError(t, err)
	assert.Len(t, res.Predictions, 1)
}

func TestLoadCachesPipelines(t *testing.T) {
	fx := newFixture(t, domain.AlgoGradientBoosting)
	ctx := context.Background()
	first, err := fx.svc.Load(ctx, fx.model)
	require.NoError(t, err)
	require.NoError(t, fx.store.Delete(ctx, fx.model.ArtifactKey))

	second, err := fx.svc.Load(ctx, fx.model)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = New(fx.repos, fx.store).Load(ctx, fx.model)
	assert.Equal(t, errs.CodePrediction, errs.CodeOf(err))
}

func TestRunBatchWritesOutputCSV(t *testing.T) {
	fx := newFixture(t, domain.AlgoRandomForest)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte("size,color\n1,red\n10,blue\n,blue\n"), 0o644))

	job := &domain.PredictionJob{ID: "p1", ModelID: fx.model.ID, Status: domain.StatusPending, InputType: domain.InputTypeFile, InputFile: path}
	require.NoError(t, fx.repos.Predictions.Create(ctx, job))

	done, err := fx.svc.Run(ctx, job, fx.model, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 3, done.RowCount)
	assert.Len(t, done.Predictions, 3)
	assert.Equal(t, artifact.PredictionKey("p1"), done.OutputKey)

	out, err := fx.store.Get(ctx, done.OutputKey)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "size,color,prediction", lines[0])
	assert.Equal(t, "1,red,no", lines[1])
	assert.Equal(t, "10,blue,yes", lines[2])
}

func TestRunRecordsFailureMarksJob(t *testing.T) {
	fx := newFixture(t, domain.AlgoRandomForest)
	ctx := context.Background()
	job := &domain.PredictionJob{ID: "p2", ModelID: fx.model.ID, Status: domain.StatusPending, InputType: domain.InputTypeRecords}
	require.NoError(t, fx.repos.Predictions.Create(ctx, job))

	_, err := fx.svc.Run(ctx, job, fx.model, []map[string]any{{"size": 3}})
	require.Error(t, err)
	assert.Equal(t, errs.CodeMissingColumns, errs.CodeOf(err))

	stored, err := fx.repos.Predictions.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.Equal(t, "missing required columns: color", stored.ErrorMessage)
	assert.NotNil(t, stored.CompletedAt)
}

func TestFromArtifact(t *testing.T) {
	fx := newFixture(t, domain.AlgoLogisticRegression)
	ctx := context.Background()

	m, err := fx.svc.FromArtifact(ctx, fx.model.ArtifactKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"size", "color"}, m.FeatureColumns)
	assert.Equal(t, domain.ColumnNumeric, m.InputSchema["size"].Dtype)
	assert.Equal(t, domain.AlgoLogisticRegression, m.Algorithm)

	res, err := fx.svc.Predict(ctx, m, []map[string]any{{"size": "10", "color": "blue"}}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{"yes"}, res.Predictions)

	_, err = fx.svc.FromArtifact(ctx, "models/none/none.msgpack")
	assert.Equal(t, errs.CodePrediction, errs.CodeOf(err))
}
