package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	logisticMaxIter = 1000
	logisticC       = 1.0
)

// Logistic is an L2-regularized logistic regression. Two classes use a single
// weight row scoring the second class; more classes use one softmax row per
// class. Intercepts are not penalized.
type Logistic struct {
	Coef      [][]float64 `msgpack:"coef"`
	Intercept []float64   `msgpack:"intercept"`
	Classes   int         `msgpack:"classes"`
}

func (l *Logistic) rows() int {
	if l.Classes == 2 {
		return 1
	}
	return l.Classes
}

func fitLogistic(x *mat.Dense, y []float64, classes int) (*Logistic, error) {
	n, d := x.Dims()
	l := &Logistic{Classes: classes}
	r := l.rows()
	stride := d + 1

	objective := func(theta, grad []float64) float64 {
		for i := range grad {
			grad[i] = 0
		}
		var loss float64
		z := make([]float64, r)
		for i := 0; i < n; i++ {
			row := x.RawRowView(i)
			for k := 0; k < r; k++ {
				w := theta[k*stride : k*stride+d]
				z[k] = theta[k*stride+d]
				for j, v := range row {
					z[k] += w[j] * v
				}
			}
			label := int(y[i])
			if r == 1 {
				loss += softplus(z[0]) - y[i]*z[0]
				if grad != nil {
					g := sigmoid(z[0]) - y[i]
					for j, v := range row {
						grad[j] += g * v
					}
					grad[d] += g
				}
				continue
			}
			lse := logSumExp(z)
			loss += lse - z[label]
			if grad != nil {
				for k := 0; k < r; k++ {
					g := math.Exp(z[k] - lse)
					if k == label {
						g--
					}
					base := k * stride
					for j, v := range row {
						grad[base+j] += g * v
					}
					grad[base+d] += g
				}
			}
		}
		for k := 0; k < r; k++ {
			for j := 0; j < d; j++ {
				w := theta[k*stride+j]
				loss += 0.5 / logisticC * w * w
				if grad != nil {
					grad[k*stride+j] += w / logisticC
				}
			}
		}
		return loss
	}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 { return objective(theta, nil) },
		Grad: func(grad, theta []float64) { objective(theta, grad) },
	}
	settings := &optimize.Settings{
		MajorIterations:   logisticMaxIter,
		GradientThreshold: 1e-6,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-10, Relative: 1e-10, Iterations: 25},
	}
	res, err := optimize.Minimize(problem, make([]float64, r*stride), settings, &optimize.LBFGS{})
	if res == nil {
		return nil, fmt.Errorf("logistic regression: %w", err)
	}
	// An iteration limit still leaves the best point found.
	if !allFinite(res.X) {
		return nil, fmt.Errorf("logistic regression did not converge: %v", err)
	}
	for k := 0; k < r; k++ {
		l.Coef = append(l.Coef, append([]float64{}, res.X[k*stride:k*stride+d]...))
		l.Intercept = append(l.Intercept, res.X[k*stride+d])
	}
	return l, nil
}

// Decision returns the linear scores of x, one per weight row.
func (l *Logistic) Decision(x []float64) []float64 {
	out := make([]float64, len(l.Coef))
	for k, w := range l.Coef {
		out[k] = l.Intercept[k] + floats.Dot(w, x)
	}
	return out
}

func (l *Logistic) proba(x []float64) []float64 {
	z := l.Decision(x)
	if l.Classes == 2 {
		p := sigmoid(z[0])
		return []float64{1 - p, p}
	}
	return softmax(z)
}

func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func logSumExp(z []float64) float64 {
	m := math.Inf(-1)
	for _, v := range z {
		m = math.Max(m, v)
	}
	var s float64
	for _, v := range z {
		s += math.Exp(v - m)
	}
	return m + math.Log(s)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
