package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/ai"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/optional"
)

type fakeSummarizer struct {
	text   string
	digest ai.ReportDigest
	calls  []string
}

func (f *fakeSummarizer) result() optional.Result[string] {
	if f.text == "" {
		return optional.Unavailable[string](errors.New("no runtime"))
	}
	return optional.Some(f.text)
}

func (f *fakeSummarizer) EDAInsights(context.Context, *domain.EDAResult) optional.Result[string] {
	f.calls = append(f.calls, "eda")
	return f.result()
}

func (f *fakeSummarizer) ExplainModel(context.Context, *domain.TrainedModel) optional.Result[string] {
	f.calls = append(f.calls, "model")
	return f.result()
}

func (f *fakeSummarizer) ReportSummary(_ context.Context, d ai.ReportDigest) optional.Result[string] {
	f.calls = append(f.calls, "report")
	f.digest = d
	return f.result()
}

func testDataset() *domain.Dataset {
	return &domain.Dataset{
		ID:          "ds",
		Name:        "churn",
		FileType:    "csv",
		FileSize:    2048,
		RowCount:    100,
		ColumnCount: 3,
		Columns: []domain.ColumnSchema{
			{Name: "age", Dtype: domain.ColumnNumeric, NullRatio: 0.1, UniqueCount: 40},
			{Name: "plan", Dtype: domain.ColumnCategorical, UniqueCount: 3},
			{Name: "churn", Dtype: domain.ColumnCategorical, UniqueCount: 2},
		},
	}
}

func testEDA() *domain.EDAResult {
	return &domain.EDAResult{
		ID:          "eda",
		DatasetID:   "ds",
		ColumnOrder: []string{"age", "plan"},
		SummaryStats: map[string]domain.SummaryStats{
			"age":  {Dtype: domain.ColumnNumeric, Mean: domain.Float(41.5), Std: domain.Float(9), Min: domain.Float(18), Max: domain.Float(80)},
			"plan": {Dtype: domain.ColumnCategorical, UniqueCount: 3, Categorical: &domain.CategoricalProfile{Mode: "basic"}},
		},
		MissingAnalysis: map[string]domain.MissingInfo{
			"age":  {Count: 10, Ratio: 0.1, Percentage: 10},
			"plan": {},
		},
		OutlierAnalysis: map[string]domain.OutlierInfo{
			"age": {Count: 2, Method: "IQR"},
		},
		QualityScore: 88.5,
		Insights:     []domain.Insight{{Message: "age has 10% missing values", Severity: domain.SeverityWarning}},
	}
}

func testModels() []*domain.TrainedModel {
	return []*domain.TrainedModel{
		{
			ID: "m2", DisplayName: "Random Forest", Algorithm: domain.AlgoRandomForest, TaskType: domain.Classification,
			Rank: 2, Metrics: domain.Metrics{Accuracy: domain.Float(0.8), F1Weighted: domain.Float(0.79)},
			FeatureImportance: map[string]float64{"age": 0.7, "plan": 0.3},
			CrossValScores:    []float64{0.5, 1},
		},
		{
			ID: "m1", DisplayName: "Logistic Regression", Algorithm: domain.AlgoLogisticRegression, TaskType: domain.Classification,
			Rank: 1, IsBest: true, ModelSize: 3 * 1024 * 1024,
			Metrics: domain.Metrics{
				Accuracy: domain.Float(0.85), F1Weighted: domain.Float(0.84), ROCAUC: domain.Float(0.9),
				ConfusionMatrix: [][]int{{40, 5}, {10, 45}}, ROCCurve: &domain.ROCCurve{},
			},
			FeatureImportance: map[string]float64{"plan": 0.6, "age": 0.4},
		},
	}
}

func TestBuildFullReport(t *testing.T) {
	models := testModels()
	s := &fakeSummarizer{text: "Churn is driven by plan."}

	r, err := Build(context.Background(), Input{Dataset: testDataset(), EDA: testEDA(), Model: models[1], Models: models}, s)
	require.NoError(t, err)

	assert.Equal(t, TypeFull, r.Type)
	assert.Equal(t, "Analysis of churn", r.Title)
	assert.Equal(t, "Churn is driven by plan.", r.Summary)
	assert.Equal(t, []string{"report"}, s.calls)
	assert.Equal(t, "full", s.digest.ReportType)
	assert.NotNil(t, s.digest.EDAHighlights)
	assert.NotNil(t, s.digest.ModelPerformance)

	assert.Equal(t, "2.0 KB", r.Content.Dataset.FileSizeDisplay)
	require.Len(t, r.Content.EDA.Stats.Numeric, 1)
	assert.Equal(t, "age", r.Content.EDA.Stats.Numeric[0].Name)
	require.Len(t, r.Content.EDA.Stats.Categorical, 1)
	assert.Equal(t, "basic", r.Content.EDA.Stats.Categorical[0].Top)
	assert.Equal(t, []MissingRow{{Column: "age", Count: 10, Ratio: 0.1}}, r.Content.EDA.Missing)

	assert.Equal(t, "3.0 MB", r.Content.Model.ModelSizeDisplay)
	assert.Equal(t, "plan", r.Content.Model.FeatureImportance[0].Name)

	require.Len(t, r.Comparison, 2)
	assert.Equal(t, "m1", r.Comparison[0].ID, "best model first")

	assert.Equal(t, 2, r.Metadata.ModelsCount)
	assert.True(t, r.Metadata.HasEDA)
	assert.True(t, r.Metadata.HasModel)
	assert.Equal(t, 1, r.Metadata.TotalInsights)
	assert.Equal(t, []string{"missing_values", "outliers", "confusion_matrix", "roc_curve", "feature_importance"}, r.Metadata.ChartTypes)
}

func TestBuildSummaryFallbacks(t *testing.T) {
	ctx := context.Background()
	models := testModels()
	unavailable := &fakeSummarizer{}

	tests := []struct {
		name string
		in   Input
		s    Summarizer
		want string
	}{
		{"full", Input{Dataset: testDataset()}, unavailable, ai.FallbackReportSummary},
		{"no summarizer", Input{Dataset: testDataset()}, nil, ai.FallbackReportSummary},
		{"eda", Input{Type: TypeEDA, Dataset: testDataset(), EDA: testEDA()}, unavailable, "Key findings from the analysis:\n- age has 10% missing values"},
		{"eda without result", Input{Type: TypeEDA, Dataset: testDataset()}, unavailable, "No EDA results available for summary."},
		{"model", Input{Type: TypeModel, Dataset: testDataset(), Model: models[1]}, unavailable, "Model trained with F1 score of 84.00%. Review metrics for details."},
		{"model without model", Input{Type: TypeModel, Dataset: testDataset()}, unavailable, "No model available for summary."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Build(ctx, tt.in, tt.s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Summary)
		})
	}
}

func TestBuildEDAReportSkipsComparison(t *testing.T) {
	r, err := Build(context.Background(), Input{Type: TypeEDA, Dataset: testDataset(), EDA: testEDA(), Models: testModels()}, nil)
	require.NoError(t, err)
	assert.Empty(t, r.Comparison)
	assert.Zero(t, r.Metadata.ModelsCount)
}

func TestBuildRequiresDataset(t *testing.T) {
	_, err := Build(context.Background(), Input{}, nil)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestMarkdown(t *testing.T) {
	models := testModels()
	r, err := Build(context.Background(), Input{Title: "Churn review", Dataset: testDataset(), EDA: testEDA(), Model: models[1], Models: models}, nil)
	require.NoError(t, err)

	md := r.Markdown()
	assert.True(t, strings.HasPrefix(md, "# Churn review\n"))
	for _, want := range []string{
		"## Executive summary",
		ai.FallbackReportSummary,
		"| age | numeric | 10.0% | 40 |",
		"### Missing values",
		"- age: 10 (10.0%)",
		"## Model: Logistic Regression",
		"- roc_auc: 0.9000",
		"| 1 | Logistic Regression (best) | 0.85 | 0.84 | 0.9 |",
		"| 2 | Random Forest | 0.8 | 0.79 | - |",
	} {
		assert.Contains(t, md, want)
	}
}

func TestWriteLeaderboard(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLeaderboard(&buf, testModels()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "rank,model_id,model,algorithm,is_best,accuracy,f1_weighted,roc_auc,rmse,mae,r2,cv_mean,training_time_sec,model_size_bytes", lines[0])
	assert.Equal(t, "1,m1,Logistic Regression,logistic_regression,true,0.85,0.84,0.9,,,,,0,3145728", lines[1])
	assert.Equal(t, "2,m2,Random Forest,random_forest,false,0.8,0.79,,,,,0.75,0,0", lines[2])
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "1.0 MB", FormatSize(1024*1024))
}
