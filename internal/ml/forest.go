package ml

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const (
	forestTrees = 100
	forestDepth = 10
)

// Forest is a bagged ensemble of CART trees. Classification leaves carry
// class probabilities and the forest averages them.
type Forest struct {
	Trees    []Tree `msgpack:"trees"`
	Classes  int    `msgpack:"classes"`
	Features int    `msgpack:"features"`
}

// fitForest grows the trees concurrently. Every tree draws its bootstrap
// and feature subsets from its own seed, so the result does not depend on
// scheduling.
func fitForest(ctx context.Context, x *mat.Dense, y []float64, classes int, seed int64) (*Forest, error) {
	n, d := x.Dims()
	p := treeParams{maxDepth: forestDepth, classes: classes}
	if classes > 0 {
		p.maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(d)))))
	}
	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, forestTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	f := &Forest{Trees: make([]Tree, forestTrees), Classes: classes, Features: d}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range seeds {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[t]))
			w := make([]float64, n)
			for i := 0; i < n; i++ {
				w[rng.Intn(n)]++
			}
			idx := make([]int, 0, n)
			for i, c := range w {
				if c > 0 {
					idx = append(idx, i)
				}
			}
			f.Trees[t] = growTree(x, y, w, idx, p, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// predict averages the leaf values of every tree.
func (f *Forest) predict(x []float64) []float64 {
	width := 1
	if f.Classes > 0 {
		width = f.Classes
	}
	out := make([]float64, width)
	for i := range f.Trees {
		v := f.Trees[i].Predict(x)
		for k := range out {
			out[k] += v[k]
		}
	}
	for k := range out {
		out[k] /= float64(len(f.Trees))
	}
	return out
}

// Importances is the mean of the per-tree normalized impurity decrease,
// renormalized to sum to 1.
func (f *Forest) Importances() []float64 {
	out := make([]float64, f.Features)
	for i := range f.Trees {
		imp := f.Trees[i].Importances(f.Features)
		normalize(imp)
		for j, v := range imp {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(f.Trees))
	}
	normalize(out)
	return out
}

func normalize(v []float64) {
	var s float64
	for _, x := range v {
		s += x
	}
	if s <= 0 {
		return
	}
	for i := range v {
		v[i] /= s
	}
}
