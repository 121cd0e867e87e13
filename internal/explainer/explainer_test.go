package explainer

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/ml"
)

func leaf(cover, v float64) ml.Node {
	return ml.Node{Feature: -1, Cover: cover, Value: []float64{v}}
}

// twoLevel splits on feature 0, then feature 1 on the left branch.
func twoLevel() ml.Tree {
	return ml.Tree{Nodes: []ml.Node{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Cover: 10},
		{Feature: 1, Threshold: 0.5, Left: 3, Right: 4, Cover: 4},
		leaf(6, 5),
		leaf(1, 1),
		leaf(3, 3),
	}}
}

func TestTreeSHAPMatchesExactShapley(t *testing.T) {
	tree := twoLevel()
	assert.InDeltaSlice(t, []float64{4}, expectedValue(&tree, 1), 1e-12)

	phi := newPhi(2, 1)
	treeSHAP(&tree, []float64{0, 1}, phi, 0, 1)
	assert.InDelta(t, -1.35, phi[0][0], 1e-12)
	assert.InDelta(t, 0.35, phi[1][0], 1e-12)
}

func TestTreeSHAPIsAdditive(t *testing.T) {
	tree := twoLevel()
	for _, x := range [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		phi := newPhi(2, 1)
		treeSHAP(&tree, x, phi, 0, 1)
		got := expectedValue(&tree, 1)[0] + phi[0][0] + phi[1][0]
		assert.InDelta(t, tree.Predict(x)[0], got, 1e-12, "x=%v", x)
	}
}

func TestTreeSHAPScalesAndOffsetsOutputs(t *testing.T) {
	tree := twoLevel()
	phi := newPhi(2, 3)
	treeSHAP(&tree, []float64{0, 1}, phi, 2, 0.5)
	assert.Equal(t, 0.0, phi[0][0])
	assert.InDelta(t, -0.675, phi[0][2], 1e-12)
}

func TestPermutationExactForAdditiveModel(t *testing.T) {
	beta := []float64{2, -1, 0.5}
	f := func(x *mat.Dense) (*mat.Dense, error) {
		n, _ := x.Dims()
		out := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			var s float64
			for j, b := range beta {
				s += b * x.At(i, j)
			}
			out.Set(i, 0, s)
		}
		return out, nil
	}
	background := mat.NewDense(1, 3, []float64{1, 1, 1})
	x := mat.NewDense(1, 3, []float64{2, 3, 5})
	phi, err := permutationAttributions(context.Background(), f, background, x, 100, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, -2, 2}, phi[0], 1e-12)
}

func TestSummarize(t *testing.T) {
	s := Summarize([][]float64{{1, -3, 0}, {-1, 1, 0}}, []string{"a", "b", "c"}, domain.AlgoSVM)
	assert.Equal(t, 2, s.NumSamplesExplained)
	assert.Equal(t, 3, s.NumFeatures)
	assert.Equal(t, map[string]float64{"a": 1, "b": 2, "c": 0}, s.ShapImportance)
	require.Len(t, s.TopFeatures, 3)
	assert.Equal(t, "b", s.TopFeatures[0].Feature)
	assert.Equal(t, domain.AlgoSVM, s.AlgorithmType)
}

func signalFrame(t *testing.T, n int) *dataset.Frame {
	rng := rand.New(rand.NewSource(7))
	signal := make([]float64, n)
	noise := make([]float64, n)
	label := make([]string, n)
	for i := range signal {
		signal[i] = rng.Float64()
		noise[i] = rng.Float64()
		label[i] = "low"
		if signal[i] > 0.5 {
			label[i] = "high"
		}
	}
	f, err := dataset.NewFrame(
		dataset.NumericColumn("signal", signal),
		dataset.NumericColumn("noise", noise),
		dataset.StringColumn("label", label),
	)
	require.NoError(t, err)
	return f
}

func fitPipeline(t *testing.T, f *dataset.Frame, algo domain.Algorithm) *ml.Pipeline {
	target, _ := f.Column("label")
	y, classes := ml.EncodeClasses(target)
	pre, err := ml.FitPreprocessor(f, []string{"signal", "noise"})
	require.NoError(t, err)
	x, err := pre.Transform(f)
	require.NoError(t, err)
	m, err := ml.Fit(context.Background(), algo, domain.Classification, x, y, len(classes))
	require.NoError(t, err)
	return &ml.Pipeline{Pre: pre, Model: m, Classes: classes, TargetKind: target.Kind}
}

func TestExplainRanksTheInformativeFeature(t *testing.T) {
	f := signalFrame(t, 150)
	e := New(config.Explainer{Seed: 42})
	for _, tc := range []struct {
		algo domain.Algorithm
		name string
	}{
		{domain.AlgoRandomForest, NameTree},
		{domain.AlgoGradientBoosting, NameTree},
		{domain.AlgoLogisticRegression, NameLinear},
		{domain.AlgoSVM, NameKernel},
	} {
		t.Run(string(tc.algo), func(t *testing.T) {
			res := e.Explain(context.Background(), fitPipeline(t, f, tc.algo), f)
			s, ok := res.Get()
			require.True(t, ok, "reason: %v", res.Reason())
			assert.Equal(t, tc.name, s.Explainer)
			assert.Equal(t, "num__signal", s.TopFeatures[0].Feature)
			assert.Equal(t, 2, s.NumFeatures)
		})
	}
}

func TestExplainFailureIsUnavailable(t *testing.T) {
	f := signalFrame(t, 40)
	p := fitPipeline(t, f, domain.AlgoRandomForest)
	other, err := dataset.NewFrame(dataset.NumericColumn("unrelated", []float64{1, 2}))
	require.NoError(t, err)

	res := New(config.Explainer{}).Explain(context.Background(), p, other)
	assert.False(t, res.Ok())
	assert.Error(t, res.Reason())
}
