// Package evaluator computes task-appropriate metrics for held-out
// predictions and ranks candidate models.
package evaluator

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/ml"
)

// MaxROCPoints caps the stored ROC curve.
const MaxROCPoints = 200

// Classification holds labelled predictions and, optionally, the model's
// class probabilities with their column labels.
type Classification struct {
	YTrue   []string
	YPred   []string
	Proba   *mat.Dense
	Classes []string
}

// Evaluate computes accuracy, precision, recall and F1 (binary averaging on
// the second sorted true label when y_true has exactly two labels, weighted
// otherwise), weighted F1, the confusion matrix and, for binary problems with
// probabilities, ROC-AUC and a down-sampled ROC curve.
func (c Classification) Evaluate() domain.Metrics {
	var m domain.Metrics
	n := len(c.YTrue)
	if n == 0 || len(c.YPred) != n {
		return m
	}
	var correct float64
	for i := range c.YTrue {
		if c.YTrue[i] == c.YPred[i] {
			correct++
		}
	}
	m.Accuracy = domain.Float(correct / float64(n))

	trueLabels := distinct(c.YTrue)
	labels := distinct(append(append([]string{}, c.YTrue...), c.YPred...))
	cm := confusion(c.YTrue, c.YPred, labels)
	scores := perLabel(cm)

	binary := len(trueLabels) == 2
	if binary {
		pos := indexOf(labels, trueLabels[1])
		s := scores[pos]
		m.Precision, m.Recall, m.F1 = domain.Float(s.precision), domain.Float(s.recall), domain.Float(s.f1)
	} else {
		p, r, f := weighted(scores)
		m.Precision, m.Recall, m.F1 = domain.Float(p), domain.Float(r), domain.Float(f)
	}
	_, _, f1w := weighted(scores)
	m.F1Weighted = domain.Float(f1w)
	m.ConfusionMatrix = cm
	m.ConfusionMatrixLabels = labels

	if binary && c.Proba != nil {
		if _, k := c.Proba.Dims(); k == 2 {
			if col := indexOf(c.Classes, trueLabels[1]); col >= 0 {
				positive := make([]bool, n)
				for i, l := range c.YTrue {
					positive[i] = l == trueLabels[1]
				}
				auc, curve := ROC(mat.Col(nil, col, c.Proba), positive)
				m.ROCAUC = domain.Float(auc)
				m.ROCCurve = &curve
			}
		}
	}
	return m
}

func distinct(vals []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range vals {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	ml.SortLabels(out)
	return out
}

func indexOf(vals []string, v string) int {
	for i, x := range vals {
		if x == v {
			return i
		}
	}
	return -1
}

// confusion counts true labels by row and predicted labels by column.
func confusion(yTrue, yPred, labels []string) [][]int {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	cm := make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		cm[index[yTrue[i]]][index[yPred[i]]]++
	}
	return cm
}

type labelScore struct {
	precision, recall, f1 float64
	support               int
}

// perLabel derives precision, recall and F1 per label; undefined ratios are 0.
func perLabel(cm [][]int) []labelScore {
	out := make([]labelScore, len(cm))
	for k := range cm {
		var tp, fp, fn int
		tp = cm[k][k]
		for j := range cm {
			if j == k {
				continue
			}
			fn += cm[k][j]
			fp += cm[j][k]
		}
		s := labelScore{support: tp + fn}
		if tp+fp > 0 {
			s.precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			s.recall = float64(tp) / float64(tp+fn)
		}
		if d := 2*tp + fp + fn; d > 0 {
			s.f1 = 2 * float64(tp) / float64(d)
		}
		out[k] = s
	}
	return out
}

// weighted averages per-label scores by true support.
func weighted(scores []labelScore) (p, r, f float64) {
	var total float64
	for _, s := range scores {
		w := float64(s.support)
		p += w * s.precision
		r += w * s.recall
		f += w * s.f1
		total += w
	}
	if total == 0 {
		return 0, 0, 0
	}
	return p / total, r / total, f / total
}

// ROC computes the area under the ROC curve of scores against positive and
// the curve itself. Collinear intermediate points are dropped, the curve
// starts at (0, 0) with an infinite threshold, and it is evenly down-sampled
// to MaxROCPoints.
func ROC(scores []float64, positive []bool) (float64, domain.ROCCurve) {
	y := append([]float64{}, scores...)
	cls := append([]bool{}, positive...)
	stat.SortWeightedLabeled(y, cls, nil)
	tpr, fpr, thresh := stat.ROC(nil, y, cls, nil)

	keep := []int{0}
	last := len(fpr) - 1
	for i := 1; i <= last; i++ {
		if i == 1 || i == last || secondDiff(fpr, i) || secondDiff(tpr, i) {
			keep = append(keep, i)
		}
	}
	var curve domain.ROCCurve
	for _, i := range keep {
		curve.FPR = append(curve.FPR, fpr[i])
		curve.TPR = append(curve.TPR, tpr[i])
		if math.IsInf(thresh[i], 0) {
			curve.Thresholds = append(curve.Thresholds, nil)
		} else {
			curve.Thresholds = append(curve.Thresholds, domain.Float(thresh[i]))
		}
	}
	auc := 0.0
	if len(curve.FPR) >= 2 {
		auc = integrate.Trapezoidal(curve.FPR, curve.TPR)
	}
	return auc, downsample(curve)
}

func secondDiff(v []float64, i int) bool {
	return math.Abs(v[i+1]-2*v[i]+v[i-1]) > 1e-12
}

func downsample(c domain.ROCCurve) domain.ROCCurve {
	n := len(c.FPR)
	if n <= MaxROCPoints {
		return c
	}
	var out domain.ROCCurve
	for i := 0; i < MaxROCPoints; i++ {
		j := i * (n - 1) / (MaxROCPoints - 1)
		out.FPR = append(out.FPR, c.FPR[j])
		out.TPR = append(out.TPR, c.TPR[j])
		out.Thresholds = append(out.Thresholds, c.Thresholds[j])
	}
	return out
}

// Regression computes MSE, RMSE, MAE and R², plus MAPE (as a percentage)
// when no true value is zero.
func Regression(yTrue, yPred []float64) domain.Metrics {
	var m domain.Metrics
	n := len(yTrue)
	if n == 0 || len(yPred) != n {
		return m
	}
	var sse, sae, ape float64
	zero := false
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sse += d * d
		sae += math.Abs(d)
		if yTrue[i] == 0 {
			zero = true
		} else {
			ape += math.Abs(d / yTrue[i])
		}
	}
	mse := sse / float64(n)
	m.MSE = domain.Float(mse)
	m.RMSE = domain.Float(math.Sqrt(mse))
	m.MAE = domain.Float(sae / float64(n))

	mean := stat.Mean(yTrue, nil)
	var sst float64
	for _, v := range yTrue {
		sst += (v - mean) * (v - mean)
	}
	switch {
	case sst > 0:
		m.R2 = domain.Float(1 - sse/sst)
	case sse == 0:
		m.R2 = domain.Float(1)
	default:
		m.R2 = domain.Float(0)
	}
	if !zero {
		m.MAPE = domain.Float(ape / float64(n) * 100)
	}
	return m
}

// Entry is one model offered for ranking.
type Entry struct {
	ID      string
	Metrics domain.Metrics
	Rank    int
	IsBest  bool
}

// Compare ranks entries: weighted F1 descending for classification (missing
// counts as 0), RMSE ascending for regression (missing counts as +Inf).
// Ties keep input order. Ranks start at 1 and only the first entry is best.
func Compare(task domain.TaskType, entries []Entry) []Entry {
	out := append([]Entry{}, entries...)
	key := func(e Entry) float64 {
		if task == domain.Classification {
			return domain.Value(e.Metrics.F1Weighted, 0)
		}
		return domain.Value(e.Metrics.RMSE, math.Inf(1))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if task == domain.Classification {
			return key(out[i]) > key(out[j])
		}
		return key(out[i]) < key(out[j])
	})
	for i := range out {
		out[i].Rank = i + 1
		out[i].IsBest = i == 0
	}
	return out
}
