package eda

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/montanaflynn/stats"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/insights"
)

const (
	defaultBins          = 20
	defaultMaxCategories = 20

	topCorrelationMin   = 0.3
	topCorrelationLimit = 10
	maxAssocColumns     = 20
	maxAssocCardinality = 100
	maxAnovaGroups      = 20
	dateSniffRows       = 100
)

// Profile computes the statistical sections and insights for f without
// persisting anything, using the default bin and category counts.
func Profile(ctx context.Context, f *dataset.Frame) (*domain.EDAResult, error) {
	r := &domain.EDAResult{RowCount: f.Rows(), ColumnCount: f.Width()}
	if err := profile(ctx, r, f, defaultBins, defaultMaxCategories); err != nil {
		return nil, err
	}
	r.Insights = insights.Generate(r, f)
	return r, nil
}

// profile computes every statistical section of r from f. It checks ctx
// between sections so a deadline interrupts long runs.
func profile(ctx context.Context, r *domain.EDAResult, f *dataset.Frame, bins, maxCategories int) error {
	steps := []func(){
		func() { r.SummaryStats = summaryStats(f) },
		func() { r.Distributions = distributions(f, bins, maxCategories) },
		func() { r.CorrelationMatrix = correlationMatrix(f) },
		func() { r.TopCorrelations = topCorrelations(r.CorrelationMatrix) },
		func() { r.MissingAnalysis = missingAnalysis(f) },
		func() { r.OutlierAnalysis = outlierAnalysis(f) },
		func() { r.DatetimeAnalysis = datetimeAnalysis(f) },
		func() { r.TextAnalysis = textAnalysis(f, r.DatetimeAnalysis) },
		func() { r.Associations = associations(f, r.DatetimeAnalysis) },
		func() { r.QualityScore = QualityScore(r) },
	}
	r.ColumnOrder = f.Names()
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		step()
	}
	return nil
}

func summaryStats(f *dataset.Frame) map[string]domain.SummaryStats {
	out := make(map[string]domain.SummaryStats, f.Width())
	for _, c := range f.Columns() {
		nulls := c.NullCount()
		count := c.Len() - nulls
		s := domain.SummaryStats{
			Count:       count,
			NullCount:   nulls,
			UniqueCount: c.Unique(),
		}
		if c.Len() > 0 {
			s.NullRatio = round(float64(nulls)/float64(c.Len()), 6)
		}
		if c.IsNumeric() {
			s.Dtype = domain.ColumnNumeric
			numericStats(&s, c.Floats())
		} else {
			s.Dtype = dataset.SemanticType(c)
			s.Categorical = categoricalProfile(c, count)
		}
		out[c.Name] = s
	}
	return out
}

func distributions(f *dataset.Frame, bins, maxCategories int) map[string]domain.Distribution {
	out := make(map[string]domain.Distribution, f.Width())
	for _, c := range f.Columns() {
		if c.IsNumeric() {
			vals := c.Floats()
			if len(vals) == 0 {
				continue
			}
			edges, counts := histogram(vals, bins)
			for i := range edges {
				edges[i] = round(edges[i], 6)
			}
			out[c.Name] = domain.Distribution{Type: domain.DistributionNumeric, Bins: edges, Counts: counts}
			continue
		}
		vc := c.ValueCounts()
		if len(vc) == 0 {
			continue
		}
		d := domain.Distribution{Type: domain.DistributionCategorical}
		shown := 0
		for i, v := range vc {
			if i == maxCategories {
				break
			}
			d.Labels = append(d.Labels, v.Value)
			d.Counts = append(d.Counts, v.Count)
			shown += v.Count
		}
		d.OtherCount = c.Len() - c.NullCount() - shown
		out[c.Name] = d
	}
	return out
}

func numericColumns(f *dataset.Frame) []*dataset.Column {
	var out []*dataset.Column
	for _, c := range f.Columns() {
		if c.IsNumeric() {
			out = append(out, c)
		}
	}
	return out
}

// correlationMatrix is nil with fewer than two numeric columns. Undefined
// coefficients (constant columns) are stored as 0 off the diagonal.
func correlationMatrix(f *dataset.Frame) *domain.CorrelationMatrix {
	cols := numericColumns(f)
	if len(cols) < 2 {
		return nil
	}
	m := &domain.CorrelationMatrix{Values: make([][]float64, len(cols))}
	for i, c := range cols {
		m.Columns = append(m.Columns, c.Name)
		m.Values[i] = make([]float64, len(cols))
		m.Values[i][i] = 1
	}
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			r := pearson(pairwise(cols[i], cols[j]))
			if math.IsNaN(r) {
				r = 0
			}
			r = round(r, 6)
			m.Values[i][j] = r
			m.Values[j][i] = r
		}
	}
	return m
}

func correlationStrength(abs float64) string {
	switch {
	case abs >= 0.7:
		return "strong"
	case abs >= 0.5:
		return "moderate"
	default:
		return "weak"
	}
}

func topCorrelations(m *domain.CorrelationMatrix) []domain.TopCorrelation {
	out := []domain.TopCorrelation{}
	if m == nil {
		return out
	}
	for i := range m.Columns {
		for j := i + 1; j < len(m.Columns); j++ {
			r := m.Values[i][j]
			if math.Abs(r) < topCorrelationMin {
				continue
			}
			out = append(out, domain.TopCorrelation{
				Column1:     m.Columns[i],
				Column2:     m.Columns[j],
				Correlation: round(r, 4),
				Strength:    correlationStrength(math.Abs(r)),
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].Correlation) > math.Abs(out[b].Correlation)
	})
	if len(out) > topCorrelationLimit {
		out = out[:topCorrelationLimit]
	}
	return out
}

func missingAnalysis(f *dataset.Frame) map[string]domain.MissingInfo {
	out := map[string]domain.MissingInfo{}
	total := f.Rows()
	for _, c := range f.Columns() {
		n := c.NullCount()
		if n == 0 {
			continue
		}
		out[c.Name] = domain.MissingInfo{
			Count:      n,
			Ratio:      round(float64(n)/float64(total), 4),
			Percentage: round(100*float64(n)/float64(total), 2),
		}
	}
	return out
}

func outlierAnalysis(f *dataset.Frame) map[string]domain.OutlierInfo {
	out := map[string]domain.OutlierInfo{}
	for _, c := range numericColumns(f) {
		vals := c.Floats()
		if len(vals) == 0 {
			continue
		}
		sorted := sortedCopy(vals)
		q1, q3 := quantile(sorted, 0.25), quantile(sorted, 0.75)
		iqr := q3 - q1
		lower, upper := q1-1.5*iqr, q3+1.5*iqr
		n := 0
		for _, v := range vals {
			if v < lower || v > upper {
				n++
			}
		}
		if n == 0 {
			continue
		}
		out[c.Name] = domain.OutlierInfo{
			Method:     "IQR",
			Count:      n,
			Ratio:      round(float64(n)/float64(len(vals)), 4),
			LowerBound: round(lower, 6),
			UpperBound: round(upper, 6),
		}
	}
	return out
}

// datetimeAnalysis covers typed datetime columns and object columns whose
// first non-null values all parse as dates.
func datetimeAnalysis(f *dataset.Frame) map[string]domain.DatetimeAnalysis {
	out := map[string]domain.DatetimeAnalysis{}
	for _, c := range f.Columns() {
		switch c.Kind {
		case dataset.KindDatetime:
			var times []time.Time
			for i := 0; i < c.Len(); i++ {
				if t, ok := c.Time(i); ok {
					times = append(times, t)
				}
			}
			if len(times) > 0 {
				out[c.Name] = describeTimes(times, "typed")
			}
			continue
		case dataset.KindObject:
		default:
			continue
		}
		vals := c.Strings()
		if len(vals) == 0 {
			continue
		}
		head := vals
		if len(head) > dateSniffRows {
			head = head[:dateSniffRows]
		}
		ok := true
		for _, v := range head {
			if _, parsed := dataset.ParseTime(v); !parsed {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		var times []time.Time
		for _, v := range vals {
			if t, parsed := dataset.ParseTime(v); parsed {
				times = append(times, t)
			}
		}
		out[c.Name] = describeTimes(times, "parsed")
	}
	return out
}

func describeTimes(times []time.Time, source string) domain.DatetimeAnalysis {
	a := domain.DatetimeAnalysis{
		Source:              source,
		Min:                 times[0],
		Max:                 times[0],
		WeekdayDistribution: map[string]int{},
		MonthDistribution:   map[string]int{},
	}
	hasTime := false
	hours := map[int]int{}
	for _, t := range times {
		if t.Before(a.Min) {
			a.Min = t
		}
		if t.After(a.Max) {
			a.Max = t
		}
		a.WeekdayDistribution[t.Weekday().String()]++
		a.MonthDistribution[t.Month().String()]++
		hours[t.Hour()]++
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 {
			hasTime = true
		}
	}
	a.RangeDays = round(a.Max.Sub(a.Min).Hours()/24, 2)
	if hasTime {
		a.HourDistribution = hours
	}
	return a
}

// textAnalysis covers high-cardinality free-text columns.
func textAnalysis(f *dataset.Frame, dates map[string]domain.DatetimeAnalysis) map[string]domain.TextAnalysis {
	out := map[string]domain.TextAnalysis{}
	for _, c := range f.Columns() {
		if c.Kind != dataset.KindObject {
			continue
		}
		if _, isDate := dates[c.Name]; isDate {
			continue
		}
		vals := c.Strings()
		if len(vals) == 0 {
			continue
		}
		uniq := c.Unique()
		if float64(uniq)/float64(len(vals)) < 0.5 && uniq <= 100 {
			continue
		}
		out[c.Name] = describeText(vals)
	}
	return out
}

func describeText(vals []string) domain.TextAnalysis {
	a := domain.TextAnalysis{MinLength: math.MaxInt}
	lengths := make(stats.Float64Data, len(vals))
	words := 0
	for i, v := range vals {
		n := len([]rune(v))
		lengths[i] = float64(n)
		a.MinLength = min(a.MinLength, n)
		a.MaxLength = max(a.MaxLength, n)
		w := len(strings.Fields(v))
		words += w
		a.MaxWordCount = max(a.MaxWordCount, w)
		for _, r := range v {
			switch {
			case unicode.IsDigit(r):
				a.HasDigits = true
			case !unicode.IsLetter(r) && !unicode.IsSpace(r):
				a.HasSpecialChars = true
			}
		}
	}
	mean, _ := lengths.Mean()
	median, _ := lengths.Median()
	a.AvgLength = round(mean, 2)
	a.MedianLength = median
	a.AvgWordCount = round(float64(words)/float64(len(vals)), 2)
	return a
}

func associationStrength(v float64) string {
	switch {
	case v >= 0.5:
		return "strong"
	case v >= 0.3:
		return "moderate"
	default:
		return "weak"
	}
}

func etaStrength(eta2 float64) string {
	switch {
	case eta2 >= 0.14:
		return "strong"
	case eta2 >= 0.06:
		return "moderate"
	default:
		return "weak"
	}
}

// associationColumns returns at most maxAssocColumns non-numeric, non-date
// columns with between 2 and maxAssocCardinality categories.
func associationColumns(f *dataset.Frame, dates map[string]domain.DatetimeAnalysis) []*dataset.Column {
	var out []*dataset.Column
	for _, c := range f.Columns() {
		if c.IsNumeric() {
			continue
		}
		if _, isDate := dates[c.Name]; isDate {
			continue
		}
		if u := c.Unique(); u < 2 || u > maxAssocCardinality {
			continue
		}
		out = append(out, c)
		if len(out) == maxAssocColumns {
			break
		}
	}
	return out
}

func associations(f *dataset.Frame, dates map[string]domain.DatetimeAnalysis) []domain.Association {
	out := []domain.Association{}
	cats := associationColumns(f, dates)
	for i := 0; i < len(cats); i++ {
		for j := i + 1; j < len(cats); j++ {
			if a, ok := cramersV(cats[i], cats[j]); ok {
				out = append(out, a)
			}
		}
	}
	nums := numericColumns(f)
	for _, c := range cats {
		for _, n := range nums {
			if a, ok := categoricalNumeric(c, n); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

func cramersV(a, b *dataset.Column) (domain.Association, bool) {
	rowIdx, colIdx := map[string]int{}, map[string]int{}
	type cell struct{ r, c int }
	counts := map[cell]float64{}
	n := 0
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) || b.IsNull(i) {
			continue
		}
		ra, ok := rowIdx[a.Key(i)]
		if !ok {
			ra = len(rowIdx)
			rowIdx[a.Key(i)] = ra
		}
		cb, ok := colIdx[b.Key(i)]
		if !ok {
			cb = len(colIdx)
			colIdx[b.Key(i)] = cb
		}
		counts[cell{ra, cb}]++
		n++
	}
	if len(rowIdx) < 2 || len(colIdx) < 2 {
		return domain.Association{}, false
	}
	table := make([][]float64, len(rowIdx))
	for i := range table {
		table[i] = make([]float64, len(colIdx))
	}
	for k, v := range counts {
		table[k.r][k.c] = v
	}
	chi2, p, _ := chiSquare(table)
	k := min(len(rowIdx), len(colIdx)) - 1
	v := math.Sqrt(chi2 / (float64(n) * float64(k)))
	if math.IsNaN(v) || v < 0.1 {
		return domain.Association{}, false
	}
	return domain.Association{
		Kind:        domain.AssocCramersV,
		Column1:     a.Name,
		Column2:     b.Name,
		Value:       round(v, 4),
		Statistic:   round(chi2, 4),
		PValue:      round(p, 6),
		Significant: p < 0.05,
		Strength:    associationStrength(v),
	}, true
}

func categoricalNumeric(c, n *dataset.Column) (domain.Association, bool) {
	groups := map[string][]float64{}
	for i := 0; i < c.Len(); i++ {
		x := n.Float(i)
		if c.IsNull(i) || math.IsNaN(x) {
			continue
		}
		groups[c.Key(i)] = append(groups[c.Key(i)], x)
	}
	labels := make([]string, 0, len(groups))
	for k := range groups {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	switch {
	case len(labels) == 2:
		var xs, ys []float64
		for gi, l := range labels {
			for _, v := range groups[l] {
				xs = append(xs, float64(gi))
				ys = append(ys, v)
			}
		}
		r := pearson(xs, ys)
		if math.IsNaN(r) || math.Abs(r) < 0.1 {
			return domain.Association{}, false
		}
		t, p := tTestCorrelation(r, len(xs))
		return domain.Association{
			Kind:        domain.AssocPointBiserial,
			Column1:     c.Name,
			Column2:     n.Name,
			Value:       round(r, 4),
			Statistic:   finite(round(t, 4)),
			PValue:      round(p, 6),
			Significant: p < 0.05,
			Strength:    associationStrength(math.Abs(r)),
		}, true
	case len(labels) > 2 && len(labels) <= maxAnovaGroups:
		gs := make([][]float64, len(labels))
		for i, l := range labels {
			gs[i] = groups[l]
		}
		fstat, p, eta2, ok := anova(gs)
		if !ok || eta2 < 0.01 {
			return domain.Association{}, false
		}
		return domain.Association{
			Kind:        domain.AssocANOVA,
			Column1:     c.Name,
			Column2:     n.Name,
			Value:       round(eta2, 4),
			Statistic:   finite(round(fstat, 4)),
			PValue:      round(p, 6),
			Significant: p < 0.05,
			Strength:    etaStrength(eta2),
		}, true
	}
	return domain.Association{}, false
}
