package ml

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	boostStages       = 100
	boostDepth        = 5
	boostLearningRate = 0.1
)

// Boosting is a gradient boosted tree ensemble. Regression fits squared
// error residuals; classification fits logistic (two classes, one tree per
// stage) or softmax (one tree per class per stage) deviance with Newton leaf
// values. Leaf values are stored unscaled; the raw score is
// Init + LearningRate * sum of leaf values.
type Boosting struct {
	Init         []float64 `msgpack:"init"`
	Stages       [][]Tree  `msgpack:"stages"`
	LearningRate float64   `msgpack:"learning_rate"`
	Classes      int       `msgpack:"classes"`
	Features     int       `msgpack:"features"`
}

// Outputs is the number of raw scores per row.
func (b *Boosting) Outputs() int {
	if b.Classes > 2 {
		return b.Classes
	}
	return 1
}

func fitBoosting(ctx context.Context, x *mat.Dense, y []float64, classes int, seed int64) (*Boosting, error) {
	n, d := x.Dims()
	b := &Boosting{LearningRate: boostLearningRate, Classes: classes, Features: d}
	k := b.Outputs()
	rng := rand.New(rand.NewSource(seed))
	p := treeParams{maxDepth: boostDepth}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	b.Init = make([]float64, k)
	switch {
	case classes == 0:
		var s float64
		for _, v := range y {
			s += v
		}
		b.Init[0] = s / float64(n)
	case classes == 2:
		var pos float64
		for _, v := range y {
			pos += v
		}
		prior := clampProb(pos / float64(n))
		b.Init[0] = math.Log(prior / (1 - prior))
	default:
		counts := make([]float64, classes)
		for _, v := range y {
			counts[int(v)]++
		}
		for c := range counts {
			b.Init[c] = math.Log(clampProb(counts[c] / float64(n)))
		}
	}

	raw := make([][]float64, n)
	for i := range raw {
		raw[i] = append([]float64{}, b.Init...)
	}
	resid := make([]float64, n)
	prob := make([]float64, n)

	for s := 0; s < boostStages; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stage := make([]Tree, k)
		var probs [][]float64
		if classes > 2 {
			probs = make([][]float64, n)
			for i := range raw {
				probs[i] = softmax(raw[i])
			}
		}
		for c := 0; c < k; c++ {
			for i := 0; i < n; i++ {
				switch {
				case classes == 0:
					resid[i] = y[i] - raw[i][0]
				case classes == 2:
					prob[i] = sigmoid(raw[i][0])
					resid[i] = y[i] - prob[i]
				default:
					target := 0.0
					if int(y[i]) == c {
						target = 1
					}
					resid[i] = target - probs[i][c]
				}
			}
			t := growTree(x, resid, nil, idx, p, rng)
			if classes > 0 {
				newtonLeaves(&t, x, resid, prob, classes)
			}
			for i := 0; i < n; i++ {
				raw[i][c] += b.LearningRate * t.Predict(x.RawRowView(i))[0]
			}
			stage[c] = t
		}
		b.Stages = append(b.Stages, stage)
	}
	return b, nil
}

// newtonLeaves replaces each leaf value with one Newton step on the
// deviance: sum(r) / sum(p(1-p)) for two classes, scaled by (K-1)/K over
// sum(|r|(1-|r|)) for K classes.
func newtonLeaves(t *Tree, x *mat.Dense, resid, prob []float64, classes int) {
	num := make([]float64, len(t.Nodes))
	den := make([]float64, len(t.Nodes))
	n, _ := x.Dims()
	for i := 0; i < n; i++ {
		leaf := t.LeafIndex(x.RawRowView(i))
		num[leaf] += resid[i]
		if classes == 2 {
			den[leaf] += prob[i] * (1 - prob[i])
		} else {
			a := math.Abs(resid[i])
			den[leaf] += a * (1 - a)
		}
	}
	scale := 1.0
	if classes > 2 {
		scale = float64(classes-1) / float64(classes)
	}
	for j := range t.Nodes {
		if !t.Nodes[j].Leaf() {
			continue
		}
		v := 0.0
		if math.Abs(den[j]) > 1e-150 {
			v = scale * num[j] / den[j]
		}
		t.Nodes[j].Value = []float64{v}
	}
}

// raw returns the additive scores of x.
func (b *Boosting) raw(x []float64) []float64 {
	out := append([]float64{}, b.Init...)
	for _, stage := range b.Stages {
		for c := range stage {
			out[c] += b.LearningRate * stage[c].Predict(x)[0]
		}
	}
	return out
}

// proba maps raw scores to class probabilities.
func (b *Boosting) proba(x []float64) []float64 {
	r := b.raw(x)
	if b.Classes == 2 {
		p := sigmoid(r[0])
		return []float64{1 - p, p}
	}
	return softmax(r)
}

// Importances averages the per-stage impurity decrease and normalizes it.
func (b *Boosting) Importances() []float64 {
	out := make([]float64, b.Features)
	if len(b.Stages) == 0 {
		return out
	}
	for _, stage := range b.Stages {
		for c := range stage {
			for j, v := range stage[c].Importances(b.Features) {
				out[j] += v
			}
		}
	}
	for j := range out {
		out[j] /= float64(len(b.Stages))
	}
	normalize(out)
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softmax(z []float64) []float64 {
	m := math.Inf(-1)
	for _, v := range z {
		m = math.Max(m, v)
	}
	out := make([]float64, len(z))
	var s float64
	for i, v := range z {
		out[i] = math.Exp(v - m)
		s += out[i]
	}
	for i := range out {
		out[i] /= s
	}
	return out
}

func clampProb(p float64) float64 {
	const eps = 1e-15
	return math.Min(math.Max(p, eps), 1-eps)
}
