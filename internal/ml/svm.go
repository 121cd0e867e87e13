package ml

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	svmMaxIter    = 5000
	svmComponents = 300
	svmC          = 1.0
	svmEpsilon    = 0.1
	svmMinEpochs  = 5
	svmMaxEpochs  = 50
)

// SVM approximates an RBF-kernel support vector machine with random Fourier
// features and a linear model trained by averaged SGD on the primal. Two
// classes use one hinge-loss machine, more classes one-vs-rest; Platt
// sigmoids map decision values to probabilities. Regression uses the
// epsilon-insensitive loss.
type SVM struct {
	Gamma   float64     `msgpack:"gamma"`
	Omega   [][]float64 `msgpack:"omega"`
	Phase   []float64   `msgpack:"phase"`
	Weights [][]float64 `msgpack:"weights"`
	Bias    []float64   `msgpack:"bias"`
	PlattA  []float64   `msgpack:"platt_a"`
	PlattB  []float64   `msgpack:"platt_b"`
	Classes int         `msgpack:"classes"`
}

func fitSVM(x *mat.Dense, y []float64, classes int, seed int64) (*SVM, error) {
	n, d := x.Dims()
	rng := rand.New(rand.NewSource(seed))

	// gamma="scale": 1 / (n_features * Var(X)).
	variance := stat.Variance(x.RawMatrix().Data, nil) * float64(n*d-1) / float64(n*d)
	gamma := 1.0
	if variance > 0 && !math.IsNaN(variance) {
		gamma = 1 / (float64(d) * variance)
	}
	s := &SVM{Gamma: gamma, Classes: classes}
	sd := math.Sqrt(2 * gamma)
	s.Omega = make([][]float64, svmComponents)
	s.Phase = make([]float64, svmComponents)
	for c := range s.Omega {
		s.Omega[c] = make([]float64, d)
		for j := range s.Omega[c] {
			s.Omega[c][j] = rng.NormFloat64() * sd
		}
		s.Phase[c] = rng.Float64() * 2 * math.Pi
	}

	z := make([][]float64, n)
	for i := range z {
		z[i] = s.features(x.RawRowView(i))
	}
	epochs := svmMaxIter / n
	if epochs < svmMinEpochs {
		epochs = svmMinEpochs
	}
	if epochs > svmMaxEpochs {
		epochs = svmMaxEpochs
	}

	if classes == 0 {
		mean := stat.Mean(y, nil)
		centred := make([]float64, n)
		for i, v := range y {
			centred[i] = v - mean
		}
		w, b := sgd(z, centred, epochs, rng, epsilonLoss)
		s.Weights, s.Bias = [][]float64{w}, []float64{b + mean}
		return s, nil
	}

	machines := classes
	if classes == 2 {
		machines = 1
	}
	for m := 0; m < machines; m++ {
		positive := m
		if classes == 2 {
			positive = 1
		}
		target := make([]float64, n)
		for i := range target {
			target[i] = -1
			if int(y[i]) == positive {
				target[i] = 1
			}
		}
		w, b := sgd(z, target, epochs, rng, hingeLoss)
		dec := make([]float64, n)
		for i := range dec {
			dec[i] = floats.Dot(w, z[i]) + b
		}
		a, bb, err := fitPlatt(dec, target)
		if err != nil {
			return nil, err
		}
		s.Weights = append(s.Weights, w)
		s.Bias = append(s.Bias, b)
		s.PlattA = append(s.PlattA, a)
		s.PlattB = append(s.PlattB, bb)
	}
	return s, nil
}

// features maps x into the random Fourier feature space.
func (s *SVM) features(x []float64) []float64 {
	out := make([]float64, len(s.Omega))
	scale := math.Sqrt(2 / float64(len(s.Omega)))
	for c, w := range s.Omega {
		out[c] = scale * math.Cos(floats.Dot(w, x)+s.Phase[c])
	}
	return out
}

// Decision returns one decision value per machine.
func (s *SVM) Decision(x []float64) []float64 {
	z := s.features(x)
	out := make([]float64, len(s.Weights))
	for m, w := range s.Weights {
		out[m] = floats.Dot(w, z) + s.Bias[m]
	}
	return out
}

func (s *SVM) predict(x []float64) float64 {
	dec := s.Decision(x)
	switch {
	case s.Classes == 0:
		return dec[0]
	case s.Classes == 2:
		if dec[0] > 0 {
			return 1
		}
		return 0
	default:
		return float64(floats.MaxIdx(dec))
	}
}

func (s *SVM) proba(x []float64) []float64 {
	dec := s.Decision(x)
	if s.Classes == 2 {
		p := sigmoid(-(s.PlattA[0]*dec[0] + s.PlattB[0]))
		return []float64{1 - p, p}
	}
	out := make([]float64, len(dec))
	for m, v := range dec {
		out[m] = sigmoid(-(s.PlattA[m]*v + s.PlattB[m]))
	}
	normalize(out)
	return out
}

// lossGrad returns the derivative of the loss with respect to the decision
// value f for target t.
type lossGrad func(f, t float64) float64

func hingeLoss(f, t float64) float64 {
	if t*f < 1 {
		return -t
	}
	return 0
}

func epsilonLoss(f, t float64) float64 {
	switch r := f - t; {
	case r > svmEpsilon:
		return 1
	case r < -svmEpsilon:
		return -1
	}
	return 0
}

// sgd minimizes lambda/2*|w|^2 + mean(loss) with lambda = 1/(C*n), using the
// step size eta_t = 1/(lambda*(t+t0)) and averaging the iterates of the
// second half of training.
func sgd(z [][]float64, t []float64, epochs int, rng *rand.Rand, grad lossGrad) ([]float64, float64) {
	n := len(z)
	dim := len(z[0])
	lambda := 1 / (svmC * float64(n))
	t0 := 1 / lambda
	w := make([]float64, dim)
	var b float64
	avgW := make([]float64, dim)
	var avgB float64
	var averaged float64
	step := 0
	total := epochs * n
	for e := 0; e < epochs; e++ {
		for _, i := range rng.Perm(n) {
			eta := 1 / (lambda * (float64(step) + t0))
			f := floats.Dot(w, z[i]) + b
			g := grad(f, t[i])
			floats.Scale(1-eta*lambda, w)
			if g != 0 {
				floats.AddScaled(w, -eta*g, z[i])
				b -= eta * g
			}
			step++
			if step > total/2 {
				averaged++
				floats.AddScaled(avgW, 1, w)
				avgB += b
			}
		}
	}
	if averaged == 0 {
		return w, b
	}
	floats.Scale(1/averaged, avgW)
	return avgW, avgB / averaged
}

// fitPlatt fits P(t=1|f) = 1/(1+exp(A*f+B)) by regularized maximum
// likelihood with Platt's smoothed targets.
func fitPlatt(dec, target []float64) (float64, float64, error) {
	var pos, neg float64
	for _, t := range target {
		if t > 0 {
			pos++
		} else {
			neg++
		}
	}
	hi := (pos + 1) / (pos + 2)
	lo := 1 / (neg + 2)
	soft := make([]float64, len(target))
	for i, t := range target {
		soft[i] = lo
		if t > 0 {
			soft[i] = hi
		}
	}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			var loss float64
			for i, f := range dec {
				z := p[0]*f + p[1]
				// -log-likelihood with P = sigmoid(-z).
				loss += soft[i]*softplus(z) + (1-soft[i])*softplus(-z)
			}
			return loss
		},
		Grad: func(g, p []float64) {
			g[0], g[1] = 0, 0
			for i, f := range dec {
				z := p[0]*f + p[1]
				d := sigmoid(z) - (1 - soft[i])
				g[0] += d * f
				g[1] += d
			}
		},
	}
	start := []float64{0, math.Log((neg + 1) / (pos + 1))}
	res, err := optimize.Minimize(problem, start, &optimize.Settings{MajorIterations: 100}, &optimize.LBFGS{})
	if res == nil || !allFinite(res.X) {
		return 0, 0, fmt.Errorf("platt scaling: %v", err)
	}
	return res.X[0], res.X[1], nil
}
