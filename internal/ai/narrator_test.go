package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/optional"
)

type fakeRuntime struct {
	reply  string
	err    error
	delay  time.Duration
	prompt string
}

func (f *fakeRuntime) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	f.prompt = req.Messages[0].Content
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := completion(f.reply)
	return &resp, nil
}

func testConfig() *config.Global {
	cfg := config.Default()
	cfg.AIProvider = ProviderOpenRouter
	cfg.APIKey = ""
	cfg.AIRatePerMinute = 0
	return cfg
}

func TestNarratorUnavailableWithoutKey(t *testing.T) {
	n := New(testConfig())
	assert.False(t, n.Available())

	res := n.EDAInsights(context.Background(), &domain.EDAResult{})
	assert.False(t, res.Ok())
	assert.ErrorIs(t, res.Reason(), optional.ErrUnavailable)
	assert.Equal(t, FallbackAnswerUnavailable, FallbackAnswer(res.Reason()))
}

func TestNarratorUseCases(t *testing.T) {
	rt := &fakeRuntime{reply: "  narrative  "}
	n := New(testConfig(), WithRuntime(rt))
	require.True(t, n.Available())
	ctx := context.Background()

	eda := &domain.EDAResult{
		SummaryStats: map[string]domain.SummaryStats{"age": {}},
		Insights:     []domain.Insight{{Message: "age has 12% missing values"}},
	}
	text, ok := n.EDAInsights(ctx, eda).Get()
	require.True(t, ok)
	assert.Equal(t, "narrative", text)
	assert.Contains(t, rt.prompt, "Dataset Summary Statistics:")
	assert.Contains(t, rt.prompt, "age has 12% missing values")

	model := &domain.TrainedModel{
		DisplayName: "Random Forest",
		Algorithm:   domain.AlgoRandomForest,
		TaskType:    domain.Classification,
		Metrics:     domain.Metrics{F1Weighted: domain.Float(0.9), ROCCurve: &domain.ROCCurve{}},
		FeatureImportance: map[string]float64{
			"a": 0.1, "b": 0.2, "c": 0.3, "d": 0.4, "e": 0.5, "f": 0.6,
			"g": 0.7, "h": 0.8, "i": 0.9, "j": 1.0, "k": 0.05,
		},
	}
	assert.True(t, n.ExplainModel(ctx, model).Ok())
	assert.Contains(t, rt.prompt, "Model Name: Random Forest")
	assert.NotContains(t, rt.prompt, `"k"`)
	assert.NotContains(t, rt.prompt, "roc_curve")

	assert.True(t, n.ReportSummary(ctx, ReportDigest{DatasetInfo: map[string]any{"rows": 10}}).Ok())
	assert.Contains(t, rt.prompt, "Report Title: Data Analysis Report")

	assert.True(t, n.ExplainMetric(ctx, "rmse", 0.25, domain.Regression).Ok())
	assert.Contains(t, rt.prompt, "Value: 0.25")

	big := strings.Repeat("x", 5000)
	assert.True(t, n.Answer(ctx, "Which column matters?", map[string]any{"eda": big}).Ok())
	assert.Contains(t, rt.prompt, "Question: Which column matters?")
	assert.Less(t, len(rt.prompt), 3600)
}

func TestNarratorFailuresDegrade(t *testing.T) {
	ctx := context.Background()

	n := New(testConfig(), WithRuntime(&fakeRuntime{err: errors.New("boom")}))
	res := n.Answer(ctx, "q", nil)
	assert.False(t, res.Ok())
	assert.Equal(t, "Sorry, I couldn't process your question. Error: boom", FallbackAnswer(res.Reason()))

	n = New(testConfig(), WithRuntime(&fakeRuntime{reply: "   "}))
	assert.False(t, n.ExplainMetric(ctx, "r2", 0.5, domain.Regression).Ok())

	n = New(testConfig(), WithRuntime(&fakeRuntime{reply: "late", delay: time.Second}), WithTimeout(20*time.Millisecond))
	res = n.ReportSummary(ctx, ReportDigest{})
	require.False(t, res.Ok())
	assert.Equal(t, "timeout", failureKind(res.Reason()))
}

func TestNarratorRateLimitRespectsDeadline(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	n := New(testConfig(), WithRuntime(&fakeRuntime{reply: "ok"}), WithLimiter(limiter), WithTimeout(50*time.Millisecond))

	assert.True(t, n.ExplainMetric(context.Background(), "mae", 1, domain.Regression).Ok())
	res := n.ExplainMetric(context.Background(), "mae", 1, domain.Regression)
	assert.False(t, res.Ok())
}

func TestAnswerStreamFallsBackToSingleChunk(t *testing.T) {
	n := New(testConfig(), WithRuntime(&fakeRuntime{reply: "whole answer"}))
	var chunks []string
	require.NoError(t, n.AnswerStream(context.Background(), "q", nil, func(d string) { chunks = append(chunks, d) }))
	assert.Equal(t, []string{"whole answer"}, chunks)

	err := New(testConfig()).AnswerStream(context.Background(), "q", nil, func(string) {})
	assert.ErrorIs(t, err, optional.ErrUnavailable)
}

func TestFallbacks(t *testing.T) {
	assert.Equal(t, "EDA analysis complete. Review the statistics and visualizations for insights.", FallbackEDAInsights(&domain.EDAResult{}))

	r := &domain.EDAResult{}
	for i := 0; i < 7; i++ {
		r.Insights = append(r.Insights, domain.Insight{Message: string(rune('a' + i))})
	}
	assert.Equal(t, "Key findings from the analysis:\n- a\n- b\n- c\n- d\n- e", FallbackEDAInsights(r))

	cls := &domain.TrainedModel{TaskType: domain.Classification, Metrics: domain.Metrics{Accuracy: domain.Float(0.8)}}
	assert.Equal(t, "Model trained with F1 score of 80.00%. Review metrics for details.", FallbackModelExplanation(cls))
	reg := &domain.TrainedModel{TaskType: domain.Regression, Metrics: domain.Metrics{RMSE: domain.Float(1.5), R2: domain.Float(0.9)}}
	assert.Equal(t, "Model trained with RMSE of 1.5000 and R² of 90.00%.", FallbackModelExplanation(reg))

	assert.Equal(t, "Accuracy of 75.00% means the model correctly predicts 75.00% of cases.", FallbackMetricExplanation("Accuracy", 0.75))
	assert.Equal(t, "MAE of 0.5000 is the average absolute prediction error.", FallbackMetricExplanation("mae", 0.5))
	assert.Equal(t, "log_loss: 0.3", FallbackMetricExplanation("log_loss", 0.3))
}

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "google/gemini-flash-1.5", ResolveModel(ProviderOpenRouter, ""))
	assert.Equal(t, "openai/gpt-4o-mini", ResolveModel(ProviderOpenRouter, "openai/gpt-4o-mini"))
	assert.Equal(t, "llama3.1:8b", ResolveModel(ProviderOllama, "google/gemini-flash-1.5"))
	assert.Equal(t, "mistral:7b", ResolveModel(ProviderOllama, "mistral:7b"))

	cost, ok := EstimateCostUSD("openai/gpt-4o-mini", 1000, 1000)
	require.True(t, ok)
	assert.InDelta(t, 0.00075, cost, 1e-12)
	assert.NotEmpty(t, Catalog(ProviderOllama))
}
