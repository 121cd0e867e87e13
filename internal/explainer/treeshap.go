package explainer

import "github.com/KaramelBytes/tabforge/internal/ml"

// pathElem is one feature on the decision path: the fraction of zero
// (feature unknown) and one (feature known) paths that flow through, and the
// permutation weight of the subset size it stands for.
type pathElem struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

func extendPath(path []pathElem, zero, one float64, feature int) []pathElem {
	l := len(path)
	m := make([]pathElem, l+1)
	copy(m, path)
	w := 0.0
	if l == 0 {
		w = 1
	}
	m[l] = pathElem{feature: feature, zero: zero, one: one, weight: w}
	for i := l - 1; i >= 0; i-- {
		m[i+1].weight += one * m[i].weight * float64(i+1) / float64(l+1)
		m[i].weight = zero * m[i].weight * float64(l-i) / float64(l+1)
	}
	return m
}

func unwindPath(path []pathElem, i int) []pathElem {
	l := len(path) - 1
	m := make([]pathElem, len(path))
	copy(m, path)
	one, zero := m[i].one, m[i].zero
	n := m[l].weight
	for j := l - 1; j >= 0; j-- {
		if one != 0 {
			t := m[j].weight
			m[j].weight = n * float64(l+1) / (float64(j+1) * one)
			n = t - m[j].weight*zero*float64(l-j)/float64(l+1)
		} else {
			m[j].weight = m[j].weight * float64(l+1) / (zero * float64(l-j))
		}
	}
	for j := i; j < l; j++ {
		m[j].feature, m[j].zero, m[j].one = m[j+1].feature, m[j+1].zero, m[j+1].one
	}
	return m[:l]
}

// unwoundSum is the total weight of the path with element i removed.
func unwoundSum(path []pathElem, i int) float64 {
	var total float64
	for _, e := range unwindPath(path, i) {
		total += e.weight
	}
	return total
}

// treeSHAP adds scale times the path-dependent SHAP values of x for every
// leaf output of t into phi, a features x outputs accumulator. Outputs
// beyond the leaf width are offset by out.
func treeSHAP(t *ml.Tree, x []float64, phi [][]float64, out int, scale float64) {
	if len(t.Nodes) == 0 {
		return
	}
	var recurse func(j int, path []pathElem, zero, one float64, feature int)
	recurse = func(j int, path []pathElem, zero, one float64, feature int) {
		path = extendPath(path, zero, one, feature)
		node := &t.Nodes[j]
		if node.Leaf() {
			for i := 1; i < len(path); i++ {
				w := unwoundSum(path, i) * (path[i].one - path[i].zero) * scale
				for k, v := range node.Value {
					phi[path[i].feature][out+k] += w * v
				}
			}
			return
		}
		hot, cold := node.Left, node.Right
		if x[node.Feature] > node.Threshold {
			hot, cold = cold, hot
		}
		iz, io := 1.0, 1.0
		for k := 1; k < len(path); k++ {
			if path[k].feature == node.Feature {
				iz, io = path[k].zero, path[k].one
				path = unwindPath(path, k)
				break
			}
		}
		cover := node.Cover
		if cover <= 0 {
			return
		}
		recurse(hot, path, iz*t.Nodes[hot].Cover/cover, io, node.Feature)
		recurse(cold, path, iz*t.Nodes[cold].Cover/cover, 0, node.Feature)
	}
	recurse(0, nil, 1, 1, -1)
}

// expectedValue is the cover-weighted mean leaf output of t.
func expectedValue(t *ml.Tree, width int) []float64 {
	out := make([]float64, width)
	root := t.Nodes[0].Cover
	if root <= 0 {
		return out
	}
	for _, n := range t.Nodes {
		if !n.Leaf() {
			continue
		}
		for k := 0; k < width && k < len(n.Value); k++ {
			out[k] += n.Cover / root * n.Value[k]
		}
	}
	return out
}
