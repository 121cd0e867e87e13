package eda

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
)

// safeFloat drops NaN and infinities and rounds to 6 places.
func safeFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return domain.Float(round(v, 6))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return v
	}
	return r
}

// finite clamps infinities to the largest float and NaN to 0 so a value
// survives JSON encoding.
func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

// quantile interpolates linearly between closest ranks of sorted data
// (position q*(n-1)).
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func sortedCopy(vals []float64) []float64 {
	out := append([]float64(nil), vals...)
	sort.Float64s(out)
	return out
}

func numericStats(s *domain.SummaryStats, vals []float64) {
	if len(vals) == 0 {
		return
	}
	sorted := sortedCopy(vals)
	mean := stat.Mean(vals, nil)
	s.Mean = safeFloat(mean)
	if len(vals) > 1 {
		s.Std = safeFloat(stat.StdDev(vals, nil))
	}
	s.Min = safeFloat(sorted[0])
	s.Max = safeFloat(sorted[len(sorted)-1])
	s.Q25 = safeFloat(quantile(sorted, 0.25))
	s.Q50 = safeFloat(quantile(sorted, 0.50))
	s.Q75 = safeFloat(quantile(sorted, 0.75))
	if len(vals) > 2 {
		s.Skewness = safeFloat(stat.Skew(vals, nil))
	}
	if len(vals) > 3 {
		s.Kurtosis = safeFloat(stat.ExKurtosis(vals, nil))
	}
}

func categoricalProfile(c *dataset.Column, count int) *domain.CategoricalProfile {
	vc := c.ValueCounts()
	p := &domain.CategoricalProfile{TopCategories: []domain.CategoryCount{}}
	if count == 0 || len(vc) == 0 {
		return p
	}
	// Mode ties resolve to the smallest value.
	mode := vc[0]
	for _, v := range vc[1:] {
		if v.Count < mode.Count {
			break
		}
		if v.Value < mode.Value {
			mode = v
		}
	}
	p.Mode = mode.Value
	p.ModeFrequency = mode.Count
	p.ModeRatio = round(float64(mode.Count)/float64(count), 4)

	probs := make([]float64, len(vc))
	for i, v := range vc {
		probs[i] = float64(v.Count) / float64(count)
	}
	h := stat.Entropy(probs) / math.Ln2
	p.Entropy = round(h, 4)
	if len(vc) > 1 {
		p.NormalizedEntropy = round(h/math.Log2(float64(len(vc))), 4)
	}
	p.CardinalityRatio = round(float64(len(vc))/float64(count), 4)
	p.IsBinary = len(vc) == 2
	for i, v := range vc {
		if i == 5 {
			break
		}
		p.TopCategories = append(p.TopCategories, domain.CategoryCount{
			Value: v.Value,
			Count: v.Count,
			Ratio: round(float64(v.Count)/float64(count), 4),
		})
	}
	return p
}

// histogram bins values into n equal-width bins spanning [min, max]. The last
// bin is closed. A constant column spans [v-0.5, v+0.5].
func histogram(vals []float64, n int) ([]float64, []int) {
	lo, hi := floats.Min(vals), floats.Max(vals)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := make([]float64, n+1)
	floats.Span(edges, lo, hi)
	counts := make([]int, n)
	width := hi - lo
	for _, v := range vals {
		i := int((v - lo) / width * float64(n))
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		// Correct for rounding at interior edges.
		for i > 0 && v < edges[i] {
			i--
		}
		for i < n-1 && v >= edges[i+1] {
			i++
		}
		counts[i]++
	}
	return edges, counts
}

// pairwise returns the rows where both columns are non-null.
func pairwise(a, b *dataset.Column) ([]float64, []float64) {
	var xs, ys []float64
	for i := 0; i < a.Len(); i++ {
		x, y := a.Float(i), b.Float(i)
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}

// pearson is NaN when either side has zero variance or fewer than two pairs.
func pearson(xs, ys []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	r := stat.Correlation(xs, ys, nil)
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r
}

// chiSquare runs a contingency test, applying Yates' continuity correction
// when there is one degree of freedom.
func chiSquare(table [][]float64) (chi2, p float64, dof int) {
	rows, cols := len(table), len(table[0])
	rowSum := make([]float64, rows)
	colSum := make([]float64, cols)
	total := 0.0
	for i, r := range table {
		for j, v := range r {
			rowSum[i] += v
			colSum[j] += v
			total += v
		}
	}
	dof = (rows - 1) * (cols - 1)
	for i := range table {
		for j := range table[i] {
			e := rowSum[i] * colSum[j] / total
			if e == 0 {
				continue
			}
			d := math.Abs(table[i][j] - e)
			if dof == 1 {
				d = math.Max(0, d-math.Min(0.5, d))
			}
			chi2 += d * d / e
		}
	}
	if dof < 1 {
		return chi2, 1, dof
	}
	p = distuv.ChiSquared{K: float64(dof)}.Survival(chi2)
	return chi2, p, dof
}

// tTestCorrelation returns the t statistic and two-sided p-value of r.
func tTestCorrelation(r float64, n int) (float64, float64) {
	if n <= 2 {
		return math.NaN(), 1
	}
	if math.Abs(r) >= 1 {
		return math.Inf(1), 0
	}
	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	p := 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}.Survival(math.Abs(t))
	return t, p
}

// anova runs a one-way F test and returns F, p and eta squared.
func anova(groups [][]float64) (f, p, eta2 float64, ok bool) {
	k := len(groups)
	var all []float64
	for _, g := range groups {
		all = append(all, g...)
	}
	n := len(all)
	if k < 2 || n <= k {
		return 0, 1, 0, false
	}
	grand := stat.Mean(all, nil)
	var ssb, ssw float64
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		m := stat.Mean(g, nil)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
		for _, v := range g {
			ssw += (v - m) * (v - m)
		}
	}
	sst := ssb + ssw
	if sst == 0 {
		return 0, 1, 0, false
	}
	eta2 = ssb / sst
	if ssw == 0 {
		return math.Inf(1), 0, eta2, true
	}
	d1, d2 := float64(k-1), float64(n-k)
	f = (ssb / d1) / (ssw / d2)
	p = distuv.F{D1: d1, D2: d2}.Survival(f)
	return f, p, eta2, true
}
