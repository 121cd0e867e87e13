package ml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/tabforge/internal/domain"
)

// Seed is the fixed random seed of every stochastic estimator.
const Seed = 42

var ErrNoProbability = errors.New("estimator does not expose probabilities")

// Model is a fitted estimator. Exactly one of the algorithm fields is set,
// matching Algorithm. Classification targets are class indices 0..Classes-1.
type Model struct {
	Algorithm domain.Algorithm `msgpack:"algorithm"`
	Task      domain.TaskType  `msgpack:"task"`
	Classes   int              `msgpack:"classes"`
	Features  int              `msgpack:"features"`
	Logistic  *Logistic        `msgpack:"logistic,omitempty"`
	Linear    *Linear          `msgpack:"linear,omitempty"`
	Forest    *Forest          `msgpack:"forest,omitempty"`
	Boosting  *Boosting        `msgpack:"boosting,omitempty"`
	SVM       *SVM             `msgpack:"svm,omitempty"`
}

// Fit trains algo on the design matrix x. For classification y holds class
// indices and classes the class count; for regression classes is ignored.
func Fit(ctx context.Context, algo domain.Algorithm, task domain.TaskType, x *mat.Dense, y []float64, classes int) (*Model, error) {
	n, d := x.Dims()
	if n == 0 || d == 0 {
		return nil, errors.New("empty training matrix")
	}
	if len(y) != n {
		return nil, fmt.Errorf("got %d targets for %d rows", len(y), n)
	}
	if task == domain.Classification && classes < 2 {
		return nil, fmt.Errorf("classification needs at least 2 classes, got %d", classes)
	}
	if task == domain.Regression {
		classes = 0
	}
	m := &Model{Algorithm: algo, Task: task, Classes: classes, Features: d}
	var err error
	switch algo {
	case domain.AlgoLogisticRegression:
		if task != domain.Classification {
			return nil, fmt.Errorf("%s only supports classification", algo)
		}
		m.Logistic, err = fitLogistic(x, y, classes)
	case domain.AlgoLinearRegression:
		if task != domain.Regression {
			return nil, fmt.Errorf("%s only supports regression", algo)
		}
		m.Linear, err = fitLinear(x, y)
	case domain.AlgoRandomForest:
		m.Forest, err = fitForest(ctx, x, y, classes, Seed)
	case domain.AlgoGradientBoosting:
		m.Boosting, err = fitBoosting(ctx, x, y, classes, Seed)
	case domain.AlgoSVM:
		m.SVM, err = fitSVM(x, y, classes, Seed)
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algo)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) Capabilities() Capability { return Capabilities(m.Algorithm, m.Task) }

// Predict returns class indices for classification and values for
// regression.
func (m *Model) Predict(x *mat.Dense) []float64 {
	n, _ := x.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = m.predictRow(x.RawRowView(i))
	}
	return out
}

func (m *Model) predictRow(x []float64) float64 {
	if m.Task == domain.Classification {
		if m.SVM != nil {
			return m.SVM.predict(x)
		}
		return float64(floats.MaxIdx(m.probaRow(x)))
	}
	switch {
	case m.Linear != nil:
		return m.Linear.predict(x)
	case m.Forest != nil:
		return m.Forest.predict(x)[0]
	case m.Boosting != nil:
		return m.Boosting.raw(x)[0]
	case m.SVM != nil:
		return m.SVM.predict(x)
	}
	return math.NaN()
}

func (m *Model) probaRow(x []float64) []float64 {
	switch {
	case m.Logistic != nil:
		return m.Logistic.proba(x)
	case m.Forest != nil:
		return m.Forest.predict(x)
	case m.Boosting != nil:
		return m.Boosting.proba(x)
	case m.SVM != nil:
		return m.SVM.proba(x)
	}
	return nil
}

// PredictProba returns an n x Classes matrix of class probabilities.
func (m *Model) PredictProba(x *mat.Dense) (*mat.Dense, error) {
	if !m.Capabilities().Has(SupportsProbability) {
		return nil, ErrNoProbability
	}
	n, _ := x.Dims()
	out := mat.NewDense(n, m.Classes, nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, m.probaRow(x.RawRowView(i)))
	}
	return out, nil
}

// FeatureImportances returns normalized impurity-based importances for tree
// ensembles.
func (m *Model) FeatureImportances() ([]float64, bool) {
	switch {
	case m.Forest != nil:
		return m.Forest.Importances(), true
	case m.Boosting != nil:
		return m.Boosting.Importances(), true
	}
	return nil, false
}

// Coefficients returns one weight row per output for linear models.
func (m *Model) Coefficients() ([][]float64, bool) {
	switch {
	case m.Logistic != nil:
		return m.Logistic.Coef, true
	case m.Linear != nil:
		return [][]float64{m.Linear.Coef}, true
	}
	return nil, false
}

// Importance is the per-feature importance the trainer reports: impurity
// decrease for trees, mean absolute coefficient across outputs for linear
// models, nothing otherwise.
func (m *Model) Importance() ([]float64, bool) {
	if imp, ok := m.FeatureImportances(); ok {
		return imp, true
	}
	coef, ok := m.Coefficients()
	if !ok || len(coef) == 0 {
		return nil, false
	}
	out := make([]float64, len(coef[0]))
	for _, row := range coef {
		for j, v := range row {
			out[j] += math.Abs(v)
		}
	}
	for j := range out {
		out[j] /= float64(len(coef))
	}
	return out, true
}
