package report

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/tabforge/internal/domain"
)

// Markdown renders the report as a standalone document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s\n\n", r.Title))
	b.WriteString(fmt.Sprintf("_%s report, generated %s_\n\n", r.Type, r.GeneratedAt.Format("2006-01-02 15:04")))

	b.WriteString("## Executive summary\n\n")
	b.WriteString(strings.TrimSpace(r.Summary))
	b.WriteString("\n\n")

	d := r.Content.Dataset
	b.WriteString("## Dataset\n\n")
	b.WriteString(fmt.Sprintf("- Name: %s\n", d.Name))
	if d.FileType != "" {
		b.WriteString(fmt.Sprintf("- File: %s, %s\n", d.FileType, d.FileSizeDisplay))
	}
	b.WriteString(fmt.Sprintf("- Rows: %d\n- Columns: %d\n\n", d.RowCount, d.ColumnCount))
	if len(d.Columns) > 0 {
		b.WriteString("| Column | Type | Missing | Unique |\n|---|---|---|---|\n")
		for _, c := range d.Columns {
			b.WriteString(fmt.Sprintf("| %s | %s | %.1f%% | %d |\n", cell(c.Name), c.Dtype, c.NullRatio*100, c.UniqueCount))
		}
		b.WriteString("\n")
	}

	if e := r.Content.EDA; e != nil {
		writeEDA(&b, e)
	}
	if m := r.Content.Model; m != nil {
		writeModel(&b, m)
	}
	if len(r.Comparison) > 0 {
		writeComparison(&b, r.Comparison)
	}
	return b.String()
}

func writeEDA(b *strings.Builder, e *EDASection) {
	b.WriteString("## Exploratory analysis\n\n")
	b.WriteString(fmt.Sprintf("Data quality score: %.1f/100", e.QualityScore))
	if e.Sampled {
		b.WriteString(fmt.Sprintf(" (computed on a %d-row sample)", e.SampleSize))
	}
	b.WriteString("\n\n")

	if len(e.Stats.Numeric) > 0 {
		b.WriteString("| Numeric column | Mean | Std | Min | Max |\n|---|---|---|---|---|\n")
		for _, n := range e.Stats.Numeric {
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n", cell(n.Name), num(n.Mean), num(n.Std), num(n.Min), num(n.Max)))
		}
		b.WriteString("\n")
	}
	if len(e.Stats.Categorical) > 0 {
		b.WriteString("| Categorical column | Unique | Most frequent |\n|---|---|---|\n")
		for _, c := range e.Stats.Categorical {
			b.WriteString(fmt.Sprintf("| %s | %d | %s |\n", cell(c.Name), c.Unique, cell(c.Top)))
		}
		b.WriteString("\n")
	}
	if len(e.Missing) > 0 {
		b.WriteString("### Missing values\n\n")
		for _, m := range e.Missing {
			b.WriteString(fmt.Sprintf("- %s: %d (%.1f%%)\n", m.Column, m.Count, m.Ratio*100))
		}
		b.WriteString("\n")
	}
	if len(e.TopCorrelations) > 0 {
		b.WriteString("### Correlations\n\n")
		for _, c := range e.TopCorrelations {
			b.WriteString(fmt.Sprintf("- %s ~ %s: r=%.3f (%s)\n", c.Column1, c.Column2, c.Correlation, c.Strength))
		}
		b.WriteString("\n")
	}
	if len(e.Outliers) > 0 {
		b.WriteString("### Outliers\n\n")
		for _, o := range e.Outliers {
			b.WriteString(fmt.Sprintf("- %s: %d (%s)\n", o.Column, o.Count, o.Method))
		}
		b.WriteString("\n")
	}
	if len(e.Insights) > 0 {
		b.WriteString("### Insights\n\n")
		for _, in := range e.Insights {
			b.WriteString(fmt.Sprintf("- **%s** %s\n", in.Severity, in.Message))
		}
		b.WriteString("\n")
	}
	if e.AIInsights != "" {
		b.WriteString("### Narrative\n\n")
		b.WriteString(strings.TrimSpace(e.AIInsights))
		b.WriteString("\n\n")
	}
}

func writeModel(b *strings.Builder, m *ModelSection) {
	b.WriteString(fmt.Sprintf("## Model: %s\n\n", m.DisplayName))
	b.WriteString(fmt.Sprintf("- Algorithm: %s\n- Task: %s\n- Size: %s\n", m.Algorithm, m.TaskType, m.ModelSizeDisplay))
	if len(m.CrossValScores) > 0 {
		parts := make([]string, len(m.CrossValScores))
		for i, s := range m.CrossValScores {
			parts[i] = fmt.Sprintf("%.4f", s)
		}
		b.WriteString(fmt.Sprintf("- Cross-validation: %s\n", strings.Join(parts, ", ")))
	}
	b.WriteString("\n### Metrics\n\n")
	for _, kv := range MetricValues(m.Metrics) {
		b.WriteString(fmt.Sprintf("- %s: %.4f\n", kv.Name, kv.Value))
	}
	if len(m.FeatureImportance) > 0 {
		b.WriteString("\n### Feature importance\n\n")
		for _, f := range m.FeatureImportance {
			b.WriteString(fmt.Sprintf("- %s: %.4f\n", f.Name, f.Importance))
		}
	}
	b.WriteString("\n")
}

func writeComparison(b *strings.Builder, rows []ComparisonRow) {
	b.WriteString("## Model comparison\n\n")
	classification := rows[0].TaskType == domain.Classification
	if classification {
		b.WriteString("| Rank | Model | Accuracy | F1 (weighted) | ROC-AUC |\n|---|---|---|---|---|\n")
	} else {
		b.WriteString("| Rank | Model | RMSE | MAE | R² |\n|---|---|---|---|---|\n")
	}
	for _, r := range rows {
		name := r.DisplayName
		if r.IsBest {
			name += " (best)"
		}
		if classification {
			b.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n", r.Rank, cell(name), num(r.Metrics.Accuracy), num(r.Metrics.F1Weighted), num(r.Metrics.ROCAUC)))
		} else {
			b.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n", r.Rank, cell(name), num(r.Metrics.RMSE), num(r.Metrics.MAE), num(r.Metrics.R2)))
		}
	}
	b.WriteString("\n")
}

type MetricValue struct {
	Name  string
	Value float64
}

// MetricValues lists the scalar metrics that are set, in a fixed order.
func MetricValues(m domain.Metrics) []MetricValue {
	all := []struct {
		name string
		v    *float64
	}{
		{"accuracy", m.Accuracy},
		{"precision", m.Precision},
		{"recall", m.Recall},
		{"f1", m.F1},
		{"f1_weighted", m.F1Weighted},
		{"roc_auc", m.ROCAUC},
		{"mse", m.MSE},
		{"rmse", m.RMSE},
		{"mae", m.MAE},
		{"r2", m.R2},
		{"mape", m.MAPE},
	}
	var out []MetricValue
	for _, kv := range all {
		if kv.v != nil {
			out = append(out, MetricValue{Name: kv.name, Value: *kv.v})
		}
	}
	return out
}

func num(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.4g", *p)
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/")
}
