package eda

import (
	"math"

	"github.com/KaramelBytes/tabforge/internal/domain"
)

// QualityScore rates a profiled dataset from 0 to 100. Each penalty is
// capped: missing values 30, constant columns 10, high-cardinality
// categoricals 15, outlier-heavy numeric columns 10.
func QualityScore(r *domain.EDAResult) float64 {
	if len(r.SummaryStats) == 0 {
		return 0
	}
	score := 100.0

	var ratioSum float64
	affected := 0
	for _, s := range r.SummaryStats {
		ratioSum += s.NullRatio
		if s.NullCount > 0 {
			affected++
		}
	}
	n := float64(len(r.SummaryStats))
	avgMissing := ratioSum / n
	score -= math.Min(30, avgMissing*100+float64(affected)/n*10)

	constant, highCard, outliers := 0, 0, 0
	for name, s := range r.SummaryStats {
		if s.UniqueCount <= 1 {
			constant++
		}
		if !s.IsNumeric() && s.Categorical != nil && s.Categorical.CardinalityRatio > 0.8 {
			highCard++
		}
		if o, ok := r.OutlierAnalysis[name]; ok && o.Ratio > 0.10 {
			outliers++
		}
	}
	score -= math.Min(10, 2*float64(constant))
	score -= math.Min(15, 3*float64(highCard))
	score -= math.Min(10, 2*float64(outliers))

	return round(math.Max(0, score), 1)
}
