// Package explainer summarizes per-feature SHAP attributions of a trained
// pipeline. It is best effort: any failure yields an unavailable result.
package explainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/ml"
	"github.com/KaramelBytes/tabforge/internal/optional"
)

// TopFeatures is the length of the ranked feature list.
const TopFeatures = 20

const (
	NameTree   = "tree"
	NameLinear = "linear"
	NameKernel = "kernel"
)

type Explainer struct {
	cfg config.Explainer
}

func New(cfg config.Explainer) *Explainer {
	if cfg.BackgroundSize <= 0 {
		cfg.BackgroundSize = 100
	}
	if cfg.ExplainSize <= 0 {
		cfg.ExplainSize = 200
	}
	if cfg.KernelCap <= 0 {
		cfg.KernelCap = 50
	}
	if cfg.KernelSamples <= 0 {
		cfg.KernelSamples = 100
	}
	return &Explainer{cfg: cfg}
}

// Explain attributes the pipeline's output over a sample of data, which must
// carry the pipeline's feature columns. Multi-output attributions (classes)
// are reduced by the mean absolute value across outputs.
func (e *Explainer) Explain(ctx context.Context, p *ml.Pipeline, data *dataset.Frame) (res optional.Result[domain.ShapSummary]) {
	log := logger.With("algorithm", p.Model.Algorithm)
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("SHAP computation panicked: %v", r)
			res = optional.Unavailable[domain.ShapSummary](fmt.Errorf("shap: %v", r))
		}
	}()

	phi, name, err := e.attribute(ctx, p, data)
	if err != nil {
		log.Warnf("SHAP computation failed: %v", err)
		return optional.Unavailable[domain.ShapSummary](err)
	}
	log.Debugf("computed %s SHAP values for %d rows", name, len(phi))
	s := Summarize(phi, p.Pre.FeatureNames(), p.Model.Algorithm)
	s.Explainer = name
	return optional.Some(s)
}

// attribute returns one row of per-feature attributions per explained
// sample, already reduced across outputs.
func (e *Explainer) attribute(ctx context.Context, p *ml.Pipeline, data *dataset.Frame) ([][]float64, string, error) {
	if data.Rows() == 0 {
		return nil, "", fmt.Errorf("no rows to explain")
	}
	background, err := p.Transform(dataset.Sample(data, e.cfg.BackgroundSize, e.cfg.Seed))
	if err != nil {
		return nil, "", err
	}
	explain, err := p.Transform(dataset.Sample(data, e.cfg.ExplainSize, e.cfg.Seed))
	if err != nil {
		return nil, "", err
	}
	m := p.Model
	switch ml.FamilyOf(m.Algorithm) {
	case ml.FamilyTree:
		phi, err := treeAttributions(ctx, m, explain)
		return phi, NameTree, err
	case ml.FamilyLinear:
		phi, err := linearAttributions(m, background, explain)
		return phi, NameLinear, err
	default:
		background = headRows(background, e.cfg.KernelCap)
		explain = headRows(explain, e.cfg.KernelCap)
		rng := rand.New(rand.NewSource(e.cfg.Seed))
		phi, err := permutationAttributions(ctx, modelOutput(m), background, explain, e.cfg.KernelSamples, rng)
		return phi, NameKernel, err
	}
}

func headRows(x *mat.Dense, n int) *mat.Dense {
	r, c := x.Dims()
	if r <= n {
		return x
	}
	return x.Slice(0, n, 0, c).(*mat.Dense)
}

// treeAttributions runs TreeSHAP over every tree of a forest (averaged) or a
// boosted ensemble (summed and scaled by the learning rate, in raw score
// space).
func treeAttributions(ctx context.Context, m *ml.Model, x *mat.Dense) ([][]float64, error) {
	n, d := x.Dims()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := x.RawRowView(i)
		var phi [][]float64
		switch {
		case m.Forest != nil:
			width := 1
			if m.Forest.Classes > 0 {
				width = m.Forest.Classes
			}
			phi = newPhi(d, width)
			scale := 1 / float64(len(m.Forest.Trees))
			for t := range m.Forest.Trees {
				treeSHAP(&m.Forest.Trees[t], row, phi, 0, scale)
			}
		case m.Boosting != nil:
			phi = newPhi(d, m.Boosting.Outputs())
			for _, stage := range m.Boosting.Stages {
				for k := range stage {
					treeSHAP(&stage[k], row, phi, k, m.Boosting.LearningRate)
				}
			}
		default:
			return nil, fmt.Errorf("%s has no trees", m.Algorithm)
		}
		out[i] = reduce(phi)
	}
	return out, nil
}

// linearAttributions is coef * (x - mean(background)) per output row.
func linearAttributions(m *ml.Model, background, x *mat.Dense) ([][]float64, error) {
	coef, ok := m.Coefficients()
	if !ok || len(coef) == 0 {
		return nil, fmt.Errorf("%s has no coefficients", m.Algorithm)
	}
	_, d := background.Dims()
	mean := make([]float64, d)
	for j := range mean {
		mean[j] = colMean(background, j)
	}
	n, _ := x.Dims()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		phi := newPhi(d, len(coef))
		for k, w := range coef {
			for j := range w {
				phi[j][k] = w[j] * (row[j] - mean[j])
			}
		}
		out[i] = reduce(phi)
	}
	return out, nil
}

func colMean(x *mat.Dense, j int) float64 {
	r, _ := x.Dims()
	var s float64
	for i := 0; i < r; i++ {
		s += x.At(i, j)
	}
	return s / float64(r)
}

// modelOutput is the explained function of a model without a structural
// explainer: class probabilities when available, predictions otherwise.
func modelOutput(m *ml.Model) func(*mat.Dense) (*mat.Dense, error) {
	return func(x *mat.Dense) (*mat.Dense, error) {
		if m.Capabilities().Has(ml.SupportsProbability) {
			return m.PredictProba(x)
		}
		pred := m.Predict(x)
		return mat.NewDense(len(pred), 1, pred), nil
	}
}

// permutationAttributions estimates SHAP values by Monte Carlo sampling of
// feature permutations. Each permutation starts from a random background
// row and switches features to the explained row one at a time, crediting
// every change in output to the switched feature. About samples model
// evaluations are spent per explained row.
func permutationAttributions(ctx context.Context, f func(*mat.Dense) (*mat.Dense, error), background, x *mat.Dense, samples int, rng *rand.Rand) ([][]float64, error) {
	nb, d := background.Dims()
	n, _ := x.Dims()
	perms := samples / (d + 1)
	if perms < 1 {
		perms = 1
	}
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := x.RawRowView(i)
		var phi [][]float64
		for s := 0; s < perms; s++ {
			order := rng.Perm(d)
			steps := mat.NewDense(d+1, d, nil)
			cur := append([]float64{}, background.RawRowView(rng.Intn(nb))...)
			steps.SetRow(0, cur)
			for k, j := range order {
				cur[j] = target[j]
				steps.SetRow(k+1, cur)
			}
			y, err := f(steps)
			if err != nil {
				return nil, err
			}
			_, width := y.Dims()
			if phi == nil {
				phi = newPhi(d, width)
			}
			for k, j := range order {
				for o := 0; o < width; o++ {
					phi[j][o] += (y.At(k+1, o) - y.At(k, o)) / float64(perms)
				}
			}
		}
		out[i] = reduce(phi)
	}
	return out, nil
}

func newPhi(features, outputs int) [][]float64 {
	phi := make([][]float64, features)
	for j := range phi {
		phi[j] = make([]float64, outputs)
	}
	return phi
}

// reduce collapses per-output attributions to one value per feature. A
// single output is kept signed; several are averaged in absolute value.
func reduce(phi [][]float64) []float64 {
	out := make([]float64, len(phi))
	for j, v := range phi {
		if len(v) == 1 {
			out[j] = v[0]
			continue
		}
		for _, o := range v {
			out[j] += math.Abs(o)
		}
		out[j] /= float64(len(v))
	}
	return out
}

// Summarize ranks features by mean absolute attribution.
func Summarize(phi [][]float64, names []string, algo domain.Algorithm) domain.ShapSummary {
	s := domain.ShapSummary{
		ShapImportance:      make(map[string]float64, len(names)),
		NumSamplesExplained: len(phi),
		NumFeatures:         len(names),
		AlgorithmType:       algo,
	}
	ranked := make([]domain.FeatureImportance, 0, len(names))
	for j, name := range names {
		var v float64
		for _, row := range phi {
			if j < len(row) {
				v += math.Abs(row[j])
			}
		}
		if len(phi) > 0 {
			v /= float64(len(phi))
		}
		s.ShapImportance[name] = v
		ranked = append(ranked, domain.FeatureImportance{Feature: name, Importance: v})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].Importance > ranked[b].Importance })
	if len(ranked) > TopFeatures {
		ranked = ranked[:TopFeatures]
	}
	s.TopFeatures = ranked
	return s
}
