package eda

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/optional"
	"github.com/KaramelBytes/tabforge/internal/store/memstore"
)

var testConfig = config.EDA{
	MaxRowsFull:   50000,
	SampleSize:    10000,
	Seed:          42,
	HistogramBins: 20,
	MaxCategories: 20,
	TimeLimitSec:  60,
}

type stubNarrator struct {
	text string
	err  error
}

func (s stubNarrator) EDAInsights(context.Context, *domain.EDAResult) optional.Result[string] {
	if s.err != nil {
		return optional.Unavailable[string](s.err)
	}
	return optional.Some(s.text)
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newDataset(t *testing.T, repos domain.Repositories, content string) *domain.Dataset {
	t.Helper()
	d := &domain.Dataset{ID: "ds-" + t.Name(), FilePath: writeCSV(t, content)}
	_, err := dataset.Parse(d, dataset.LoadOptions{})
	require.NoError(t, err)
	require.NoError(t, repos.Datasets.Create(context.Background(), d))
	return d
}

const sampleCSV = `x,y,z,group,flag
1,2,10,a,yes
2,4,9,b,no
3,6,8,a,yes
4,8,7,b,no
5,10,6,a,yes
6,12,5,c,no
7,14,4,a,yes
8,16,3,b,no
9,18,2,c,yes
10,20,1,a,no
`

func TestAnalyzeCacheHitAndForceRefresh(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	a := New(repos, testConfig)

	first, err := a.Analyze(ctx, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, first.Status)
	assert.Equal(t, d.FileHash, first.CacheKey)
	assert.Equal(t, 1, first.Version)

	second, err := a.Analyze(ctx, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	refreshed, err := a.Analyze(ctx, d, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, refreshed.ID)
	assert.Equal(t, 2, refreshed.Version)

	all, err := repos.EDAResults.ListByDataset(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAnalyzeComputesSections(t *testing.T) {
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	r, err := New(repos, testConfig).Analyze(context.Background(), d, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "z", "group", "flag"}, r.ColumnOrder)
	assert.Equal(t, 10, r.RowCount)
	assert.False(t, r.Sampled)

	x := r.SummaryStats["x"]
	assert.Equal(t, domain.ColumnNumeric, x.Dtype)
	assert.Equal(t, 5.5, *x.Mean)
	assert.Equal(t, 3.25, *x.Q25)
	assert.Equal(t, 7.75, *x.Q75)

	g := r.SummaryStats["group"]
	require.NotNil(t, g.Categorical)
	assert.Equal(t, "a", g.Categorical.Mode)
	assert.Equal(t, 5, g.Categorical.ModeFrequency)
	assert.False(t, g.Categorical.IsBinary)
	assert.True(t, r.SummaryStats["flag"].Categorical.IsBinary)

	require.NotNil(t, r.CorrelationMatrix)
	m := r.CorrelationMatrix
	for i := range m.Columns {
		assert.InDelta(t, 1.0, m.Values[i][i], 1e-9)
		for j := range m.Columns {
			assert.InDelta(t, m.Values[i][j], m.Values[j][i], 1e-12)
		}
	}
	xy, _ := m.Get("x", "y")
	xz, _ := m.Get("x", "z")
	assert.InDelta(t, 1.0, xy, 1e-9)
	assert.InDelta(t, -1.0, xz, 1e-9)
	require.NotEmpty(t, r.TopCorrelations)
	assert.Equal(t, "strong", r.TopCorrelations[0].Strength)

	hist := r.Distributions["x"]
	assert.Equal(t, domain.DistributionNumeric, hist.Type)
	assert.Len(t, hist.Counts, 20)
	assert.Len(t, hist.Bins, 21)
	assert.Equal(t, 10, sum(hist.Counts))

	cats := r.Distributions["group"]
	assert.Equal(t, []string{"a", "b", "c"}, cats.Labels)
	assert.Equal(t, []int{5, 3, 2}, cats.Counts)
	assert.Zero(t, cats.OtherCount)

	assert.Empty(t, r.OutlierAnalysis)
	assert.Empty(t, r.MissingAnalysis)
	assert.Equal(t, 100.0, r.QualityScore)
	assert.NotEmpty(t, r.Insights)
	assert.Greater(t, r.ComputationTime, 0.0)
}

func TestAnalyzeSamplesLargeDatasets(t *testing.T) {
	var b strings.Builder
	b.WriteString("v\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, b.String())
	cfg := testConfig
	cfg.MaxRowsFull, cfg.SampleSize = 20, 10

	r, err := New(repos, cfg).Analyze(context.Background(), d, Options{})
	require.NoError(t, err)
	assert.True(t, r.Sampled)
	assert.Equal(t, 10, r.SampleSize)
	assert.Equal(t, 40, r.RowCount)
	assert.Equal(t, 10, r.SummaryStats["v"].Count)

	again, err := New(repos, cfg).Analyze(context.Background(), d, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, r.SummaryStats["v"].Mean, again.SummaryStats["v"].Mean)
}

func TestAnalyzeFailureMarksResult(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	d := &domain.Dataset{ID: "broken", FilePath: filepath.Join(t.TempDir(), "gone.csv"), FileHash: "abc"}
	require.NoError(t, repos.Datasets.Create(ctx, d))

	_, err := New(repos, testConfig).Analyze(ctx, d, Options{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeEDA, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "EDA computation failed")

	results, err := repos.EDAResults.ListByDataset(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusError, results[0].Status)
	assert.NotEmpty(t, results[0].ErrorMessage)
}

func TestAnalyzeDeadlineIsTimeout(t *testing.T) {
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := New(repos, testConfig).Analyze(ctx, d, Options{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeTimeout, errs.CodeOf(err))

	results, _ := repos.EDAResults.ListByDataset(context.Background(), d.ID)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusError, results[0].Status)
	assert.Equal(t, TimeLimitMessage, results[0].ErrorMessage)
}

func TestAnalyzeCancelledIsError(t *testing.T) {
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(repos, testConfig).Analyze(ctx, d, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	results, _ := repos.EDAResults.ListByDataset(context.Background(), d.ID)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusError, results[0].Status)
	assert.Equal(t, CancelledMessage, results[0].ErrorMessage)
}

func TestAnalyzeUsesPendingResult(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	pending := &domain.EDAResult{ID: "pending-1", DatasetID: d.ID, Status: domain.StatusPending}
	require.NoError(t, repos.EDAResults.Create(ctx, pending))

	r, err := New(repos, testConfig).Analyze(ctx, d, Options{Result: pending})
	require.NoError(t, err)
	assert.Equal(t, "pending-1", r.ID)
	assert.Equal(t, domain.StatusCompleted, r.Status)
}

func TestAnalyzeCacheHitCompletesPendingResult(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	a := New(repos, testConfig)

	first, err := a.Analyze(ctx, d, Options{})
	require.NoError(t, err)

	pending := &domain.EDAResult{ID: "pending-2", DatasetID: d.ID, Status: domain.StatusPending}
	require.NoError(t, repos.EDAResults.Create(ctx, pending))

	r, err := a.Analyze(ctx, d, Options{Result: pending})
	require.NoError(t, err)
	assert.Equal(t, "pending-2", r.ID)
	assert.Equal(t, domain.StatusCompleted, r.Status)
	assert.Equal(t, 2, r.Version)
	assert.Equal(t, first.CacheKey, r.CacheKey)
	assert.Equal(t, first.QualityScore, r.QualityScore)

	stored, err := repos.EDAResults.Get(ctx, "pending-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, first.SummaryStats, stored.SummaryStats)
}

func TestAnalyzeNarrative(t *testing.T) {
	cfg := testConfig
	cfg.Narrative = true
	tests := []struct {
		name     string
		narrator stubNarrator
		expect   string
	}{
		{"available", stubNarrator{text: "Looks clean."}, "Looks clean."},
		{"unavailable", stubNarrator{err: errors.New("timeout")}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repos := memstore.New().Repositories()
			d := newDataset(t, repos, sampleCSV)
			r, err := New(repos, cfg, WithNarrator(tc.narrator)).Analyze(context.Background(), d, Options{})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, r.Status)
			assert.Equal(t, tc.expect, r.AINarrative)
		})
	}
}

func TestDatetimeAnalysisTypedColumns(t *testing.T) {
	f, err := dataset.NewFrame(
		dataset.DatetimeColumn("signed", []string{"2021-01-01", "2021-01-04 09:00:00", ""}),
		dataset.NewColumn("when", []string{"2022-05-01", "2022-05-02", "2022-05-03"}),
		dataset.NewColumn("name", []string{"a", "b", "c"}),
	)
	require.NoError(t, err)

	out := datetimeAnalysis(f)
	require.Contains(t, out, "signed")
	assert.Equal(t, "typed", out["signed"].Source)
	assert.Equal(t, 2021, out["signed"].Min.Year())
	assert.Equal(t, 4, out["signed"].Max.Day())
	require.Contains(t, out, "when")
	assert.Equal(t, "parsed", out["when"].Source)
	assert.NotContains(t, out, "name")
}

func TestOutliersWithinBoundsAreZero(t *testing.T) {
	in := dataset.NumericColumn("in", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	out := dataset.NumericColumn("out", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100})
	f, err := dataset.NewFrame(in, out)
	require.NoError(t, err)

	res := outlierAnalysis(f)
	_, ok := res["in"]
	assert.False(t, ok)
	require.Contains(t, res, "out")
	assert.Equal(t, 1, res["out"].Count)
	assert.Equal(t, 0.1, res["out"].Ratio)
	assert.Equal(t, "IQR", res["out"].Method)
}

func TestHistogramConstantColumn(t *testing.T) {
	edges, counts := histogram([]float64{3, 3, 3}, 4)
	assert.Equal(t, []float64{2.5, 2.75, 3, 3.25, 3.5}, edges)
	assert.Equal(t, 3, sum(counts))
}

func TestQualityScore(t *testing.T) {
	num := dataset.NumericColumn("num", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	constant := dataset.StringColumn("const", []string{"a", "a", "a", "a", "a", "a", "a", "a", "a", "a"})
	f, err := dataset.NewFrame(num, constant)
	require.NoError(t, err)

	r := &domain.EDAResult{}
	require.NoError(t, profile(context.Background(), r, f, 20, 20))
	assert.Equal(t, 98.0, r.QualityScore)

	r.SummaryStats["num"] = domain.SummaryStats{Dtype: domain.ColumnNumeric, NullRatio: 0.5, NullCount: 5, UniqueCount: 5}
	// avg missing 0.25 -> 25 + half the columns affected -> 5, capped at 30
	assert.Equal(t, 68.0, QualityScore(r))
}

func TestQualityScoreCapsPenalties(t *testing.T) {
	r := &domain.EDAResult{SummaryStats: map[string]domain.SummaryStats{}, OutlierAnalysis: map[string]domain.OutlierInfo{}}
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("c%d", i)
		r.SummaryStats[name] = domain.SummaryStats{
			Dtype:       domain.ColumnText,
			NullRatio:   0.9,
			NullCount:   9,
			UniqueCount: 1,
			Categorical: &domain.CategoricalProfile{CardinalityRatio: 1},
		}
	}
	score := QualityScore(r)
	// 100 - 30 missing - 10 constant - 15 high cardinality
	assert.Equal(t, 45.0, score)
	assert.False(t, math.IsNaN(score))
}

func TestMarkdownSections(t *testing.T) {
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	r, err := New(repos, testConfig).Analyze(context.Background(), d, Options{})
	require.NoError(t, err)

	md := Markdown(r)
	assert.Contains(t, md, "[DATASET SUMMARY]")
	assert.Contains(t, md, "Rows: 10")
	assert.Contains(t, md, "- x: numeric")
	assert.Contains(t, md, "[CORRELATIONS]")
	assert.Contains(t, md, "[INSIGHTS]")

	digest := Digest(r, 10)
	assert.LessOrEqual(t, len([]rune(digest)), 40)
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

func TestSubmitQueuesOrReturnsCached(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	d := newDataset(t, repos, sampleCSV)
	a := New(repos, testConfig)

	pending, done, err := a.Submit(ctx, d, false)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, domain.StatusPending, pending.Status)

	completed, err := a.Analyze(ctx, d, Options{Result: pending, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, completed.ID)

	cached, done, err := a.Submit(ctx, d, false)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, pending.ID, cached.ID)

	fresh, done, err := a.Submit(ctx, d, true)
	require.NoError(t, err)
	assert.False(t, done)
	assert.NotEqual(t, pending.ID, fresh.ID)
}
