// Package insights derives rule-based findings from a profiled dataset.
package insights

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
)

// Insight types.
const (
	TypeMissingValues = "missing_values"
	TypeCorrelation   = "correlation"
	TypeOutliers      = "outliers"
	TypeDataQuality   = "data_quality"
	TypeGeneral       = "general"
	TypeMLReadiness   = "ml_readiness"
	TypeAssociation   = "association"
)

// Rule codes.
const (
	CodeHighMissing          = "HIGH_MISSING"
	CodeVeryHighMissing      = "VERY_HIGH_MISSING"
	CodeStrongCorrelation    = "STRONG_CORRELATION"
	CodeHighOutliers         = "HIGH_OUTLIERS"
	CodeIDColumn             = "POTENTIAL_ID_COLUMN"
	CodeConstantColumn       = "CONSTANT_COLUMN"
	CodeNumericAsText        = "NUMERIC_AS_TEXT"
	CodeSevereImbalance      = "SEVERE_CLASS_IMBALANCE"
	CodeImbalance            = "CLASS_IMBALANCE"
	CodeHighCardinality      = "HIGH_CARDINALITY"
	CodeManyCategories       = "MANY_CATEGORIES"
	CodeCategoricalAssoc     = "STRONG_CATEGORICAL_ASSOCIATION"
	CodeCategoricalNumeric   = "CATEGORICAL_NUMERIC_ASSOCIATION"
	CodeClassificationTarget = "CLASSIFICATION_TARGETS"
	CodeRegressionTarget     = "REGRESSION_TARGETS"
	CodeMLReadiness          = "ML_READINESS"
	CodeShape                = "DATASET_SHAPE"
	CodeOverallMissing       = "OVERALL_MISSING"
	CodeColumnTypes          = "COLUMN_TYPES"
	CodeSampled              = "SAMPLED"
)

// Thresholds.
const (
	HighMissing          = 0.05
	VeryHighMissing      = 0.20
	StrongCorrelation    = 0.7
	HighOutlierRatio     = 0.05
	IDUniqueRatio        = 0.95
	NumericTextRatio     = 0.9
	SevereImbalance      = 0.9
	Imbalance            = 0.8
	TargetMaxNullRatio   = 0.1
	maxTargetSuggestions = 3
)

var printer = message.NewPrinter(language.English)

type generator struct {
	r   *domain.EDAResult
	f   *dataset.Frame
	out []domain.Insight
}

// Generate runs every rule against r and its frame f and returns the
// findings ordered error, warning, info. Rules are independent.
func Generate(r *domain.EDAResult, f *dataset.Frame) []domain.Insight {
	g := &generator{r: r, f: f}
	rules := []func(){
		g.missingValues,
		g.correlations,
		g.outliers,
		g.idColumns,
		g.constantColumns,
		g.numericAsText,
		g.classImbalance,
		g.highCardinality,
		g.categoricalAssociations,
		g.categoricalNumericAssociations,
		g.targetSuggestions,
		g.mlReadiness,
		g.summary,
	}
	for _, rule := range rules {
		rule()
	}
	sort.SliceStable(g.out, func(i, j int) bool {
		return g.out[i].Severity.Rank() < g.out[j].Severity.Rank()
	})
	if g.out == nil {
		return []domain.Insight{}
	}
	return g.out
}

func (g *generator) add(typ, code string, sev domain.Severity, column string, value any, format string, args ...any) {
	g.out = append(g.out, domain.Insight{
		Type:     typ,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Severity: sev,
		Column:   column,
		Value:    value,
	})
}

// columns iterates summary stats in frame column order.
func (g *generator) columns(fn func(name string, s domain.SummaryStats)) {
	for _, name := range g.r.ColumnOrder {
		if s, ok := g.r.SummaryStats[name]; ok {
			fn(name, s)
		}
	}
}

func isCategorical(s domain.SummaryStats) bool {
	return !s.IsNumeric() && s.Categorical != nil && s.Categorical.Mode != ""
}

func (g *generator) missingValues() {
	for _, name := range g.r.ColumnOrder {
		info, ok := g.r.MissingAnalysis[name]
		if !ok {
			continue
		}
		switch {
		case info.Ratio >= VeryHighMissing:
			g.add(TypeMissingValues, CodeVeryHighMissing, domain.SeverityWarning, name, info.Ratio,
				"Column '%s' has %.1f%% missing values. Consider dropping or imputing.", name, info.Percentage)
		case info.Ratio >= HighMissing:
			g.add(TypeMissingValues, CodeHighMissing, domain.SeverityInfo, name, info.Ratio,
				"Column '%s' has %.1f%% missing values.", name, info.Percentage)
		}
	}
}

func (g *generator) correlations() {
	for _, c := range g.r.TopCorrelations {
		if math.Abs(c.Correlation) < StrongCorrelation {
			continue
		}
		direction := "negatively"
		if c.Correlation > 0 {
			direction = "positively"
		}
		g.add(TypeCorrelation, CodeStrongCorrelation, domain.SeverityInfo, c.Column1+", "+c.Column2, c.Correlation,
			"'%s' and '%s' are strongly %s correlated (r = %.2f). Consider if both are needed.",
			c.Column1, c.Column2, direction, c.Correlation)
	}
}

func (g *generator) outliers() {
	for _, name := range g.r.ColumnOrder {
		info, ok := g.r.OutlierAnalysis[name]
		if !ok || info.Ratio < HighOutlierRatio {
			continue
		}
		g.add(TypeOutliers, CodeHighOutliers, domain.SeverityWarning, name, info.Ratio,
			"Column '%s' has %.1f%% outliers (%d values outside IQR bounds).", name, info.Ratio*100, info.Count)
	}
}

func (g *generator) idColumns() {
	g.columns(func(name string, s domain.SummaryStats) {
		if s.Count == 0 {
			return
		}
		ratio := float64(s.UniqueCount) / float64(s.Count)
		if ratio >= IDUniqueRatio {
			g.add(TypeDataQuality, CodeIDColumn, domain.SeverityInfo, name, ratio,
				"Column '%s' appears to be an ID column (%.0f%% unique values). Consider excluding from ML features.",
				name, ratio*100)
		}
	})
}

func (g *generator) constantColumns() {
	g.columns(func(name string, s domain.SummaryStats) {
		if s.UniqueCount == 1 {
			g.add(TypeDataQuality, CodeConstantColumn, domain.SeverityWarning, name, 1,
				"Column '%s' has only one unique value. It provides no predictive power.", name)
		}
	})
}

func (g *generator) numericAsText() {
	if g.f == nil {
		return
	}
	for _, c := range g.f.Columns() {
		if c.Kind != dataset.KindObject {
			continue
		}
		vals := c.Strings()
		if len(vals) == 0 {
			continue
		}
		parsed := 0
		for _, v := range vals {
			if _, ok := dataset.LooseFloat(v); ok {
				parsed++
			}
		}
		ratio := float64(parsed) / float64(len(vals))
		if ratio >= NumericTextRatio {
			g.add(TypeDataQuality, CodeNumericAsText, domain.SeverityInfo, c.Name, ratio,
				"Column '%s' appears to contain numeric values stored as text. Consider converting to numeric.", c.Name)
		}
	}
}

func (g *generator) classImbalance() {
	g.columns(func(name string, s domain.SummaryStats) {
		if s.Categorical == nil || !s.Categorical.IsBinary {
			return
		}
		d := s.Categorical.ModeRatio
		switch {
		case d >= SevereImbalance:
			g.add(TypeDataQuality, CodeSevereImbalance, domain.SeverityWarning, name, d,
				"Column '%s' shows severe class imbalance (%.0f%% dominant class). Consider resampling or weighted training if used as target.",
				name, d*100)
		case d >= Imbalance:
			g.add(TypeDataQuality, CodeImbalance, domain.SeverityInfo, name, d,
				"Column '%s' shows class imbalance (%.0f%% dominant class).", name, d*100)
		}
	})
}

func (g *generator) highCardinality() {
	g.columns(func(name string, s domain.SummaryStats) {
		if !isCategorical(s) {
			return
		}
		switch {
		case s.Categorical.CardinalityRatio >= 0.5 && s.UniqueCount > 50:
			g.add(TypeDataQuality, CodeHighCardinality, domain.SeverityWarning, name, s.UniqueCount,
				"Column '%s' has high cardinality (%d unique values). Consider binning, encoding, or removing for ML.",
				name, s.UniqueCount)
		case s.UniqueCount > 20:
			g.add(TypeDataQuality, CodeManyCategories, domain.SeverityInfo, name, s.UniqueCount,
				"Column '%s' has %d unique categories. One-hot encoding will create many features.", name, s.UniqueCount)
		}
	})
}

func (g *generator) categoricalAssociations() {
	for _, a := range g.r.Associations {
		if a.Kind != domain.AssocCramersV || a.Strength != "strong" {
			continue
		}
		g.add(TypeAssociation, CodeCategoricalAssoc, domain.SeverityInfo, a.Column1+", "+a.Column2, a.Value,
			"'%s' and '%s' are strongly associated (Cramer's V = %.2f). These may be redundant features.",
			a.Column1, a.Column2, a.Value)
	}
}

func (g *generator) categoricalNumericAssociations() {
	for _, a := range g.r.Associations {
		if !a.Significant || (a.Strength != "strong" && a.Strength != "moderate") {
			continue
		}
		switch a.Kind {
		case domain.AssocPointBiserial:
			g.add(TypeAssociation, CodeCategoricalNumeric, domain.SeverityInfo, a.Column1+", "+a.Column2, a.Value,
				"'%s' shows %s relationship with '%s' (r = %.2f).", a.Column1, a.Strength, a.Column2, a.Value)
		case domain.AssocANOVA:
			g.add(TypeAssociation, CodeCategoricalNumeric, domain.SeverityInfo, a.Column1+", "+a.Column2, a.Value,
				"'%s' significantly affects '%s' values (eta² = %.2f, %s effect).", a.Column1, a.Column2, a.Value, a.Strength)
		}
	}
}

func (g *generator) targetSuggestions() {
	type target struct {
		name    string
		classes int
	}
	var cls, reg []target
	g.columns(func(name string, s domain.SummaryStats) {
		if s.NullRatio > TargetMaxNullRatio {
			return
		}
		switch {
		case isCategorical(s) && s.UniqueCount >= 2 && s.UniqueCount <= 20:
			cls = append(cls, target{name, s.UniqueCount})
		case s.IsNumeric() && s.Mean != nil && s.UniqueCount > 20:
			reg = append(reg, target{name, s.UniqueCount})
		}
	})
	if len(cls) > 0 {
		cls = cls[:min(len(cls), maxTargetSuggestions)]
		labels := make([]string, len(cls))
		names := make([]string, len(cls))
		for i, t := range cls {
			labels[i] = fmt.Sprintf("'%s' (%d classes)", t.name, t.classes)
			names[i] = t.name
		}
		g.add(TypeMLReadiness, CodeClassificationTarget, domain.SeverityInfo, "", names,
			"Potential classification targets: %s", strings.Join(labels, ", "))
	}
	if len(reg) > 0 {
		reg = reg[:min(len(reg), maxTargetSuggestions)]
		labels := make([]string, len(reg))
		names := make([]string, len(reg))
		for i, t := range reg {
			labels[i] = fmt.Sprintf("'%s'", t.name)
			names[i] = t.name
		}
		g.add(TypeMLReadiness, CodeRegressionTarget, domain.SeverityInfo, "", names,
			"Potential regression targets: %s", strings.Join(labels, ", "))
	}
}

func (g *generator) mlReadiness() {
	if len(g.r.SummaryStats) == 0 {
		return
	}
	score := g.r.QualityScore
	var issues []string
	highMissing := 0
	for _, m := range g.r.MissingAnalysis {
		if m.Ratio > 0.1 {
			highMissing++
		}
	}
	if highMissing > 0 {
		issues = append(issues, fmt.Sprintf("%d columns with >10%% missing", highMissing))
	}
	constant, highCard := 0, 0
	for _, s := range g.r.SummaryStats {
		if s.UniqueCount == 1 {
			constant++
		}
		if isCategorical(s) && s.Categorical.CardinalityRatio > 0.5 {
			highCard++
		}
	}
	if constant > 0 {
		issues = append(issues, fmt.Sprintf("%d constant columns", constant))
	}
	if highCard > 0 {
		issues = append(issues, fmt.Sprintf("%d high-cardinality categorical columns", highCard))
	}

	var (
		msg string
		sev = domain.SeverityInfo
	)
	list := strings.Join(issues, ", ")
	switch {
	case score >= 85:
		msg = fmt.Sprintf("ML Readiness Score: %.0f/100 - Data is well-prepared for modeling.", score)
	case score >= 70:
		msg = fmt.Sprintf("ML Readiness Score: %.0f/100 - Data quality is acceptable.", score)
		if list != "" {
			msg += " Minor issues: " + list + "."
		}
	case score >= 50:
		msg = fmt.Sprintf("ML Readiness Score: %.0f/100 - Data needs some cleaning.", score)
		if list != "" {
			msg += " Issues: " + list + "."
		}
		sev = domain.SeverityWarning
	default:
		msg = fmt.Sprintf("ML Readiness Score: %.0f/100 - Significant data quality issues.", score)
		if list != "" {
			msg += " Issues: " + list + "."
		}
		sev = domain.SeverityWarning
	}
	g.add(TypeMLReadiness, CodeMLReadiness, sev, "", score, "%s", msg)
}

func (g *generator) summary() {
	rows, cols := g.r.RowCount, len(g.r.ColumnOrder)
	if g.f != nil {
		rows, cols = g.f.Rows(), g.f.Width()
	}
	g.add(TypeGeneral, CodeShape, domain.SeverityInfo, "", map[string]int{"rows": rows, "columns": cols},
		"%s", printer.Sprintf("Dataset contains %d rows and %d columns.", rows, cols))

	missing := 0
	numeric := 0
	for _, s := range g.r.SummaryStats {
		missing += s.NullCount
		if s.IsNumeric() {
			numeric++
		}
	}
	if cells := rows * cols; cells > 0 && missing > 0 {
		ratio := float64(missing) / float64(cells)
		sev := domain.SeverityInfo
		if ratio >= 0.1 {
			sev = domain.SeverityWarning
		}
		g.add(TypeGeneral, CodeOverallMissing, sev, "", ratio, "Overall %.1f%% of values are missing.", ratio*100)
	}
	if cols > 0 {
		g.add(TypeGeneral, CodeColumnTypes, domain.SeverityInfo, "", map[string]int{"numeric": numeric, "categorical": cols - numeric},
			"Found %d numeric and %d categorical columns.", numeric, cols-numeric)
	}
	if g.r.Sampled {
		g.add(TypeGeneral, CodeSampled, domain.SeverityInfo, "", g.r.SampleSize,
			"%s", printer.Sprintf("Analysis performed on a sample of %d rows (original dataset is larger). Results are approximate.", g.r.SampleSize))
	}
}
