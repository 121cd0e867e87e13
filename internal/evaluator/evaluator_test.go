package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/tabforge/internal/domain"
)

func TestRegressionPerfectFit(t *testing.T) {
	y := []float64{1, 2, 3, 4, 5}
	m := Regression(y, y)
	assert.Equal(t, 0.0, *m.MSE)
	assert.Equal(t, 0.0, *m.RMSE)
	assert.Equal(t, 0.0, *m.MAE)
	assert.Equal(t, 1.0, *m.R2)
	require.NotNil(t, m.MAPE)
	assert.Equal(t, 0.0, *m.MAPE)
	assert.Nil(t, m.Accuracy)
}

func TestRegressionErrors(t *testing.T) {
	m := Regression([]float64{0, 2, 4}, []float64{1, 2, 3})
	assert.InDelta(t, 2.0/3, *m.MSE, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3), *m.RMSE, 1e-12)
	assert.InDelta(t, 2.0/3, *m.MAE, 1e-12)
	assert.InDelta(t, 1-2.0/8, *m.R2, 1e-12)
	assert.Nil(t, m.MAPE, "mape is undefined when a true value is zero")
}

func TestRegressionConstantTarget(t *testing.T) {
	assert.Equal(t, 1.0, *Regression([]float64{3, 3}, []float64{3, 3}).R2)
	assert.Equal(t, 0.0, *Regression([]float64{3, 3}, []float64{2, 4}).R2)
}

func TestBinaryClassification(t *testing.T) {
	c := Classification{
		YTrue:   []string{"no", "no", "yes", "yes"},
		YPred:   []string{"no", "yes", "yes", "yes"},
		Proba:   mat.NewDense(4, 2, []float64{0.9, 0.1, 0.6, 0.4, 0.65, 0.35, 0.2, 0.8}),
		Classes: []string{"no", "yes"},
	}
	m := c.Evaluate()
	assert.Equal(t, 0.75, *m.Accuracy)
	assert.InDelta(t, 2.0/3, *m.Precision, 1e-12)
	assert.Equal(t, 1.0, *m.Recall)
	assert.InDelta(t, 0.8, *m.F1, 1e-12)
	assert.InDelta(t, (2.0/3+0.8)/2, *m.F1Weighted, 1e-12)
	assert.Equal(t, [][]int{{1, 1}, {0, 2}}, m.ConfusionMatrix)
	assert.Equal(t, []string{"no", "yes"}, m.ConfusionMatrixLabels)

	require.NotNil(t, m.ROCAUC)
	assert.InDelta(t, 0.75, *m.ROCAUC, 1e-12)
	require.NotNil(t, m.ROCCurve)
	assert.InDeltaSlice(t, []float64{0, 0, 0.5, 0.5, 1}, m.ROCCurve.FPR, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0.5, 0.5, 1, 1}, m.ROCCurve.TPR, 1e-12)
	assert.Nil(t, m.ROCCurve.Thresholds[0])
	assert.Equal(t, 0.8, *m.ROCCurve.Thresholds[1])
}

func TestMulticlassUsesWeightedAverage(t *testing.T) {
	c := Classification{
		YTrue: []string{"a", "a", "b", "c"},
		YPred: []string{"a", "b", "b", "d"},
	}
	m := c.Evaluate()
	assert.Equal(t, 0.5, *m.Accuracy)
	assert.Equal(t, *m.F1, *m.F1Weighted)
	assert.Equal(t, []string{"a", "b", "c", "d"}, m.ConfusionMatrixLabels)
	assert.Len(t, m.ConfusionMatrix, 4)
	assert.Nil(t, m.ROCAUC)
}

func TestNumericLabelsSortNumerically(t *testing.T) {
	c := Classification{YTrue: []string{"10", "2", "10"}, YPred: []string{"10", "2", "2"}}
	m := c.Evaluate()
	assert.Equal(t, []string{"2", "10"}, m.ConfusionMatrixLabels)
	// positive label is "10": one of two found, no false positives
	assert.Equal(t, 1.0, *m.Precision)
	assert.Equal(t, 0.5, *m.Recall)
}

func TestROCDropsCollinearPoints(t *testing.T) {
	scores := []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}
	positive := []bool{false, false, false, true, true, true}
	auc, curve := ROC(scores, positive)
	assert.InDelta(t, 1.0, auc, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 1}, curve.FPR, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 1.0 / 3, 1, 1}, curve.TPR, 1e-12)
}

func TestROCDownsamples(t *testing.T) {
	n := 1000
	scores := make([]float64, n)
	positive := make([]bool, n)
	for i := range scores {
		scores[i] = float64(i) / float64(n)
		positive[i] = i%2 == 0
	}
	_, curve := ROC(scores, positive)
	assert.Len(t, curve.FPR, MaxROCPoints)
	assert.Len(t, curve.Thresholds, MaxROCPoints)
	assert.InDelta(t, 0.0, curve.FPR[0], 1e-12)
	assert.InDelta(t, 1.0, curve.FPR[MaxROCPoints-1], 1e-12)
}

func TestCompare(t *testing.T) {
	entries := []Entry{
		{ID: "a", Metrics: domain.Metrics{F1Weighted: domain.Float(0.7)}},
		{ID: "b"},
		{ID: "c", Metrics: domain.Metrics{F1Weighted: domain.Float(0.9)}},
		{ID: "d", Metrics: domain.Metrics{F1Weighted: domain.Float(0.7)}},
	}
	ranked := Compare(domain.Classification, entries)
	var ids []string
	for _, e := range ranked {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"c", "a", "d", "b"}, ids)
	assert.True(t, ranked[0].IsBest)
	assert.False(t, ranked[1].IsBest)
	assert.Equal(t, 4, ranked[3].Rank)

	ranked = Compare(domain.Regression, []Entry{
		{ID: "x"},
		{ID: "y", Metrics: domain.Metrics{RMSE: domain.Float(2)}},
		{ID: "z", Metrics: domain.Metrics{RMSE: domain.Float(1)}},
	})
	assert.Equal(t, "z", ranked[0].ID)
	assert.Equal(t, "x", ranked[2].ID)
}
