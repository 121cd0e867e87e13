package eda

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/utils"
)

// Markdown renders a compact report of r suitable for prompts or standalone docs.
func Markdown(r *domain.EDAResult) string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if r.Sampled {
		b.WriteString(fmt.Sprintf("Rows: %d (sampled %d)\n", r.RowCount, r.SampleSize))
	} else {
		b.WriteString(fmt.Sprintf("Rows: %d\n", r.RowCount))
	}
	b.WriteString(fmt.Sprintf("Columns: %d\n", len(r.ColumnOrder)))
	b.WriteString(fmt.Sprintf("Quality score: %.1f/100\n\n", r.QualityScore))

	b.WriteString("[SCHEMA]\n")
	for _, name := range r.ColumnOrder {
		s, ok := r.SummaryStats[name]
		if !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%, unique %d)",
			safeName(name), s.Dtype, s.Count, s.NullRatio*100, s.UniqueCount))
		switch {
		case s.IsNumeric() && s.Mean != nil:
			b.WriteString(fmt.Sprintf(": min %.4g, max %.4g, mean %.4g, std %.4g",
				domain.Value(s.Min, 0), domain.Value(s.Max, 0), *s.Mean, domain.Value(s.Std, 0)))
			if o, ok := r.OutlierAnalysis[name]; ok {
				b.WriteString(fmt.Sprintf("; outliers: %d outside [%.4g, %.4g]", o.Count, o.LowerBound, o.UpperBound))
			}
		case s.Categorical != nil && len(s.Categorical.TopCategories) > 0:
			b.WriteString(": top: ")
			for i, kv := range s.Categorical.TopCategories {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
			}
		}
		b.WriteString("\n")
	}

	if len(r.TopCorrelations) > 0 {
		b.WriteString("\n[CORRELATIONS]\n")
		for _, c := range r.TopCorrelations {
			b.WriteString(fmt.Sprintf("- %s ~ %s: r=%.3f (%s)\n", c.Column1, c.Column2, c.Correlation, c.Strength))
		}
	}

	if len(r.Associations) > 0 {
		b.WriteString("\n[ASSOCIATIONS]\n")
		lim := min(len(r.Associations), 10)
		for _, a := range r.Associations[:lim] {
			b.WriteString(fmt.Sprintf("- %s ~ %s: %s=%.3f, p=%.3g (%s)\n", a.Column1, a.Column2, a.Kind, a.Value, a.PValue, a.Strength))
		}
	}

	if len(r.MissingAnalysis) > 0 {
		b.WriteString("\n[MISSING VALUES]\n")
		names := make([]string, 0, len(r.MissingAnalysis))
		for k := range r.MissingAnalysis {
			names = append(names, k)
		}
		sort.Slice(names, func(i, j int) bool {
			mi, mj := r.MissingAnalysis[names[i]], r.MissingAnalysis[names[j]]
			if mi.Count == mj.Count {
				return names[i] < names[j]
			}
			return mi.Count > mj.Count
		})
		for _, n := range names {
			m := r.MissingAnalysis[n]
			b.WriteString(fmt.Sprintf("- %s: %d (%.2f%%)\n", n, m.Count, m.Percentage))
		}
	}

	if len(r.DatetimeAnalysis) > 0 {
		b.WriteString("\n[DATETIME]\n")
		for _, name := range r.ColumnOrder {
			dt, ok := r.DatetimeAnalysis[name]
			if !ok {
				continue
			}
			b.WriteString(fmt.Sprintf("- %s: %s .. %s (%.0f days)\n", name,
				dt.Min.Format("2006-01-02"), dt.Max.Format("2006-01-02"), dt.RangeDays))
		}
	}

	if len(r.Insights) > 0 {
		b.WriteString("\n[INSIGHTS]\n")
		for _, in := range r.Insights {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", in.Severity, in.Message))
		}
	}
	if r.AINarrative != "" {
		b.WriteString("\n[NARRATIVE]\n")
		b.WriteString(strings.TrimSpace(r.AINarrative))
		b.WriteString("\n")
	}
	return b.String()
}

// Digest is Markdown cut to a token budget.
func Digest(r *domain.EDAResult, tokens int) string {
	return utils.TruncateToTokenLimit(Markdown(r), tokens)
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
