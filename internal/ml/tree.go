package ml

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Node is one CART node. Leaves have Feature -1. Cover is the weighted number
// of training samples that reached the node and Gain the weighted impurity
// decrease of its split.
type Node struct {
	Feature   int       `msgpack:"f"`
	Threshold float64   `msgpack:"t"`
	Left      int       `msgpack:"l"`
	Right     int       `msgpack:"r"`
	Cover     float64   `msgpack:"c"`
	Gain      float64   `msgpack:"g"`
	Value     []float64 `msgpack:"v"`
}

func (n *Node) Leaf() bool { return n.Feature < 0 }

// Tree is a binary decision tree stored as a flat node list; node 0 is the
// root. Rows go left when x[Feature] <= Threshold.
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// LeafIndex returns the node index of the leaf x falls into.
func (t *Tree) LeafIndex(x []float64) int {
	i := 0
	for !t.Nodes[i].Leaf() {
		n := &t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

func (t *Tree) Predict(x []float64) []float64 {
	return t.Nodes[t.LeafIndex(x)].Value
}

// Importances sums split gains per feature, relative to the root cover.
func (t *Tree) Importances(features int) []float64 {
	out := make([]float64, features)
	if len(t.Nodes) == 0 || t.Nodes[0].Cover == 0 {
		return out
	}
	for _, n := range t.Nodes {
		if !n.Leaf() {
			out[n.Feature] += n.Gain
		}
	}
	for j := range out {
		out[j] /= t.Nodes[0].Cover
	}
	return out
}

type treeParams struct {
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int // 0 means all
	classes     int // 0 means regression
}

type treeBuilder struct {
	p     treeParams
	x     *mat.Dense
	y     []float64
	w     []float64
	rng   *rand.Rand
	nodes []Node
}

// growTree fits a CART tree on the rows idx with sample weights w. For
// classification y holds class indices and leaves hold class probabilities;
// for regression leaves hold the weighted mean.
func growTree(x *mat.Dense, y, w []float64, idx []int, p treeParams, rng *rand.Rand) Tree {
	if p.minSplit < 2 {
		p.minSplit = 2
	}
	if p.minLeaf < 1 {
		p.minLeaf = 1
	}
	b := &treeBuilder{p: p, x: x, y: y, w: w, rng: rng}
	b.build(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) weight(i int) float64 {
	if b.w == nil {
		return 1
	}
	return b.w[i]
}

// summarize returns the leaf value, total weight and the parent term of the
// split criterion (sum of squared class weights, or squared target sum, over
// total weight).
func (b *treeBuilder) summarize(idx []int) (value []float64, total, parent, impurity float64) {
	if b.p.classes > 0 {
		counts := make([]float64, b.p.classes)
		for _, i := range idx {
			w := b.weight(i)
			counts[int(b.y[i])] += w
			total += w
		}
		var sq float64
		for k := range counts {
			sq += counts[k] * counts[k]
			if total > 0 {
				counts[k] /= total
			}
		}
		if total > 0 {
			parent = sq / total
			impurity = 1 - sq/(total*total)
		}
		return counts, total, parent, impurity
	}
	var sum, sumSq float64
	for _, i := range idx {
		w := b.weight(i)
		sum += w * b.y[i]
		sumSq += w * b.y[i] * b.y[i]
		total += w
	}
	mean := 0.0
	if total > 0 {
		mean = sum / total
		parent = sum * sum / total
		impurity = sumSq/total - mean*mean
	}
	return []float64{mean}, total, parent, impurity
}

func (b *treeBuilder) build(idx []int, depth int) int {
	value, total, parent, impurity := b.summarize(idx)
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Cover: total, Value: value})
	if depth >= b.p.maxDepth || len(idx) < b.p.minSplit || impurity <= 1e-12 {
		return id
	}
	feature, threshold, proxy, ok := b.bestSplit(idx, total)
	gain := proxy - parent
	if !ok || gain <= 1e-12 {
		return id
	}
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	n := &b.nodes[id]
	n.Feature, n.Threshold, n.Gain, n.Left, n.Right = feature, threshold, gain, l, r
	return id
}

// featureOrder is the order features are tried in. With a feature budget the
// order is random and constant features do not count against the budget.
func (b *treeBuilder) featureOrder() (order []int, budget int) {
	_, d := b.x.Dims()
	if b.p.maxFeatures > 0 && b.p.maxFeatures < d {
		return b.rng.Perm(d), b.p.maxFeatures
	}
	order = make([]int, d)
	for j := range order {
		order[j] = j
	}
	return order, d
}

// bestSplit maximizes the children term of the criterion (Gini or squared
// error), which is equivalent to minimizing weighted child impurity.
func (b *treeBuilder) bestSplit(idx []int, total float64) (feature int, threshold, best float64, ok bool) {
	order := make([]int, len(idx))
	vals := make([]float64, len(idx))
	classes := b.p.classes
	var lc, rc []float64
	if classes > 0 {
		lc = make([]float64, classes)
		rc = make([]float64, classes)
	}
	features, budget := b.featureOrder()
	tried := 0
	for _, f := range features {
		if tried == budget {
			break
		}
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.x.At(order[a], f) < b.x.At(order[c], f) })
		for j, i := range order {
			vals[j] = b.x.At(i, f)
		}
		if vals[0] == vals[len(vals)-1] {
			continue
		}
		tried++

		var wl, sl, sr float64
		if classes > 0 {
			for k := range lc {
				lc[k], rc[k] = 0, 0
			}
			for _, i := range order {
				rc[int(b.y[i])] += b.weight(i)
			}
		} else {
			for _, i := range order {
				sr += b.weight(i) * b.y[i]
			}
		}
		for j := 0; j < len(order)-1; j++ {
			i := order[j]
			w := b.weight(i)
			wl += w
			if classes > 0 {
				k := int(b.y[i])
				lc[k] += w
				rc[k] -= w
			} else {
				sl += w * b.y[i]
				sr -= w * b.y[i]
			}
			if vals[j] == vals[j+1] {
				continue
			}
			if j+1 < b.p.minLeaf || len(order)-j-1 < b.p.minLeaf {
				continue
			}
			wr := total - wl
			if wl <= 0 || wr <= 0 {
				continue
			}
			var score float64
			if classes > 0 {
				var ql, qr float64
				for k := range lc {
					ql += lc[k] * lc[k]
					qr += rc[k] * rc[k]
				}
				score = ql/wl + qr/wr
			} else {
				score = sl*sl/wl + sr*sr/wr
			}
			if !ok || score > best {
				t := (vals[j] + vals[j+1]) / 2
				if t >= vals[j+1] {
					t = vals[j]
				}
				feature, threshold, best, ok = f, t, score, true
			}
		}
	}
	return feature, threshold, best, ok
}
