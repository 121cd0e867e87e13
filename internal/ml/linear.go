package ml

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ridge keeps the normal equations positive definite when one-hot blocks are
// collinear with the intercept. It is relative to the mean diagonal.
const ridge = 1e-8

// Linear is an ordinary least squares regression with intercept.
type Linear struct {
	Coef      []float64 `msgpack:"coef"`
	Intercept float64   `msgpack:"intercept"`
}

var errSingular = errors.New("linear regression: normal equations are singular")

// fitLinear solves the centred normal equations with a Cholesky
// factorization, raising the ridge until the factorization succeeds.
func fitLinear(x *mat.Dense, y []float64) (*Linear, error) {
	n, d := x.Dims()
	means := make([]float64, d)
	for j := 0; j < d; j++ {
		means[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	ymean := stat.Mean(y, nil)

	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		for j := range row {
			xc.Set(i, j, row[j]-means[j])
		}
		yc.SetVec(i, y[i]-ymean)
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, xc.T())
	var xty mat.VecDense
	xty.MulVec(xc.T(), yc)

	var trace float64
	for j := 0; j < d; j++ {
		trace += xtx.At(j, j)
	}
	lambda := ridge * (1 + trace/float64(d))

	var beta mat.VecDense
	for attempt := 0; attempt < 8; attempt++ {
		a := mat.NewSymDense(d, nil)
		a.CopySym(&xtx)
		for j := 0; j < d; j++ {
			a.SetSym(j, j, a.At(j, j)+lambda)
		}
		var ch mat.Cholesky
		if ch.Factorize(a) {
			if err := ch.SolveVecTo(&beta, &xty); err == nil {
				coef := make([]float64, d)
				for j := range coef {
					coef[j] = beta.AtVec(j)
				}
				if allFinite(coef) {
					return &Linear{Coef: coef, Intercept: ymean - floats.Dot(coef, means)}, nil
				}
			}
		}
		lambda *= 100
	}
	return nil, errSingular
}

func (l *Linear) predict(x []float64) float64 {
	return l.Intercept + floats.Dot(l.Coef, x)
}
