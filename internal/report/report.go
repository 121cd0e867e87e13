// Package report assembles the content of an analysis report: dataset, EDA
// and model sections, a model comparison table and an executive summary.
// Rendering to a styled document is left to consumers; Markdown is provided
// for the CLI.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/KaramelBytes/tabforge/internal/ai"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/optional"
)

type Type string

const (
	TypeEDA   Type = "eda"
	TypeModel Type = "model"
	TypeFull  Type = "full"
)

const (
	maxColumns = 20
	topN       = 10
)

// Summarizer produces the executive summary. *ai.Narrator satisfies it.
type Summarizer interface {
	EDAInsights(ctx context.Context, r *domain.EDAResult) optional.Result[string]
	ExplainModel(ctx context.Context, m *domain.TrainedModel) optional.Result[string]
	ReportSummary(ctx context.Context, d ai.ReportDigest) optional.Result[string]
}

// Input is everything a report is built from. EDA and Model are optional;
// Models is the comparison set, usually every model of the training job.
type Input struct {
	Title   string
	Type    Type
	Dataset *domain.Dataset
	EDA     *domain.EDAResult
	Model   *domain.TrainedModel
	Models  []*domain.TrainedModel
}

type Report struct {
	Title       string          `json:"title"`
	Type        Type            `json:"report_type"`
	Content     Content         `json:"content"`
	Comparison  []ComparisonRow `json:"model_comparison,omitempty"`
	Metadata    Metadata        `json:"report_metadata"`
	Summary     string          `json:"ai_summary"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type Content struct {
	Dataset DatasetSection `json:"dataset"`
	EDA     *EDASection    `json:"eda,omitempty"`
	Model   *ModelSection  `json:"model,omitempty"`
}

type DatasetSection struct {
	Name            string          `json:"name"`
	FileType        string          `json:"file_type"`
	FileSize        int64           `json:"file_size"`
	FileSizeDisplay string          `json:"file_size_display"`
	RowCount        int             `json:"row_count"`
	ColumnCount     int             `json:"column_count"`
	CreatedAt       time.Time       `json:"created_at"`
	Columns         []ColumnSummary `json:"columns"`
}

type ColumnSummary struct {
	Name        string            `json:"name"`
	Dtype       domain.ColumnType `json:"dtype"`
	NullRatio   float64           `json:"null_ratio"`
	UniqueCount int               `json:"unique_count"`
}

type EDASection struct {
	Stats           StatsSummary                   `json:"summary_stats_formatted"`
	Distributions   map[string]domain.Distribution `json:"distributions"`
	TopCorrelations []domain.TopCorrelation        `json:"top_correlations"`
	Missing         []MissingRow                   `json:"missing_values_summary"`
	Outliers        []OutlierRow                   `json:"outliers_summary"`
	QualityScore    float64                        `json:"data_quality_score"`
	Insights        []domain.Insight               `json:"insights"`
	AIInsights      string                         `json:"ai_insights,omitempty"`
	Associations    []domain.Association           `json:"associations"`
	Sampled         bool                           `json:"sampled"`
	SampleSize      int                            `json:"sample_size"`
	ComputationTime float64                        `json:"computation_time"`
}

type StatsSummary struct {
	Numeric     []NumericRow     `json:"numeric_columns"`
	Categorical []CategoricalRow `json:"categorical_columns"`
}

type NumericRow struct {
	Name string   `json:"name"`
	Mean *float64 `json:"mean"`
	Std  *float64 `json:"std"`
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
}

type CategoricalRow struct {
	Name   string `json:"name"`
	Unique int    `json:"unique"`
	Top    string `json:"top,omitempty"`
}

type MissingRow struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Ratio  float64 `json:"ratio"`
}

type OutlierRow struct {
	Column string `json:"column"`
	Count  int    `json:"count"`
	Method string `json:"method"`
}

type ModelSection struct {
	Name              string           `json:"name"`
	DisplayName       string           `json:"display_name"`
	Algorithm         domain.Algorithm `json:"algorithm_type"`
	TaskType          domain.TaskType  `json:"task_type"`
	Metrics           domain.Metrics   `json:"metrics"`
	FeatureImportance []FeatureWeight  `json:"feature_importance"`
	Hyperparameters   map[string]any   `json:"hyperparameters"`
	CrossValScores    []float64        `json:"cross_val_scores"`
	IsBest            bool             `json:"is_best"`
	ModelSize         int64            `json:"model_size"`
	ModelSizeDisplay  string           `json:"model_size_display"`
}

type FeatureWeight struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

type ComparisonRow struct {
	ID                string           `json:"id"`
	DisplayName       string           `json:"display_name"`
	Algorithm         domain.Algorithm `json:"algorithm_type"`
	TaskType          domain.TaskType  `json:"task_type"`
	Rank              int              `json:"rank"`
	IsBest            bool             `json:"is_best"`
	Metrics           domain.Metrics   `json:"metrics"`
	FeatureImportance []FeatureWeight  `json:"feature_importance"`
	CrossValScores    []float64        `json:"cross_val_scores"`
	ModelSizeDisplay  string           `json:"model_size_display"`
}

// Metadata tells a renderer which charts the content can back.
type Metadata struct {
	QualityScore  *float64 `json:"data_quality_score,omitempty"`
	TotalInsights int      `json:"total_insights"`
	ChartTypes    []string `json:"chart_types_included"`
	ModelsCount   int      `json:"models_count"`
	HasAIInsights bool     `json:"has_ai_insights"`
	HasModel      bool     `json:"has_model"`
	HasEDA        bool     `json:"has_eda"`
}

// Build assembles the report. The summary never fails: an unavailable or
// failing summarizer resolves to the matching fallback text.
func Build(ctx context.Context, in Input, s Summarizer) (*Report, error) {
	if in.Dataset == nil {
		return nil, errs.Validation("report needs a dataset")
	}
	kind := in.Type
	if kind == "" {
		kind = TypeFull
	}
	r := &Report{
		Title:       in.Title,
		Type:        kind,
		Content:     Content{Dataset: datasetSection(in.Dataset)},
		GeneratedAt: time.Now(),
	}
	if r.Title == "" {
		r.Title = "Analysis of " + in.Dataset.Name
	}
	if in.EDA != nil {
		r.Content.EDA = edaSection(in.EDA)
	}
	if in.Model != nil {
		r.Content.Model = modelSection(in.Model)
	}
	if kind == TypeModel || kind == TypeFull {
		r.Comparison = comparison(in.Models)
	}
	r.Metadata = metadata(r)
	r.Summary = summary(ctx, r, in, s)
	return r, nil
}

func summary(ctx context.Context, r *Report, in Input, s Summarizer) string {
	switch r.Type {
	case TypeEDA:
		if in.EDA == nil {
			return "No EDA results available for summary."
		}
		return orFallback(s, func() optional.Result[string] { return s.EDAInsights(ctx, in.EDA) }, ai.FallbackEDAInsights(in.EDA))
	case TypeModel:
		if in.Model == nil {
			return "No model available for summary."
		}
		return orFallback(s, func() optional.Result[string] { return s.ExplainModel(ctx, in.Model) }, ai.FallbackModelExplanation(in.Model))
	}
	digest := ai.ReportDigest{
		Title:       r.Title,
		ReportType:  string(r.Type),
		DatasetInfo: r.Content.Dataset,
	}
	if r.Content.EDA != nil {
		digest.EDAHighlights = r.Content.EDA
	}
	if r.Content.Model != nil {
		digest.ModelPerformance = r.Content.Model
	}
	return orFallback(s, func() optional.Result[string] { return s.ReportSummary(ctx, digest) }, ai.FallbackReportSummary)
}

func orFallback(s Summarizer, call func() optional.Result[string], fallback string) string {
	if s == nil {
		return fallback
	}
	return call().OrElse(fallback)
}

func datasetSection(d *domain.Dataset) DatasetSection {
	sec := DatasetSection{
		Name:            d.Name,
		FileType:        d.FileType,
		FileSize:        d.FileSize,
		FileSizeDisplay: FormatSize(d.FileSize),
		RowCount:        d.RowCount,
		ColumnCount:     d.ColumnCount,
		CreatedAt:       d.CreatedAt,
	}
	for i, c := range d.Columns {
		if i == maxColumns {
			break
		}
		sec.Columns = append(sec.Columns, ColumnSummary{Name: c.Name, Dtype: c.Dtype, NullRatio: c.NullRatio, UniqueCount: c.UniqueCount})
	}
	return sec
}

func edaSection(r *domain.EDAResult) *EDASection {
	return &EDASection{
		Stats:           summarizeStats(r),
		Distributions:   r.Distributions,
		TopCorrelations: r.TopCorrelations,
		Missing:         summarizeMissing(r.MissingAnalysis),
		Outliers:        summarizeOutliers(r.OutlierAnalysis),
		QualityScore:    r.QualityScore,
		Insights:        r.Insights,
		AIInsights:      r.AINarrative,
		Associations:    r.Associations,
		Sampled:         r.Sampled,
		SampleSize:      r.SampleSize,
		ComputationTime: r.ComputationTime,
	}
}

// summarizeStats keeps the result's column order.
func summarizeStats(r *domain.EDAResult) StatsSummary {
	var out StatsSummary
	for _, name := range r.ColumnOrder {
		s, ok := r.SummaryStats[name]
		if !ok {
			continue
		}
		if s.IsNumeric() {
			out.Numeric = append(out.Numeric, NumericRow{Name: name, Mean: s.Mean, Std: s.Std, Min: s.Min, Max: s.Max})
			continue
		}
		row := CategoricalRow{Name: name, Unique: s.UniqueCount}
		if s.Categorical != nil {
			row.Top = s.Categorical.Mode
		}
		out.Categorical = append(out.Categorical, row)
	}
	return out
}

func summarizeMissing(m map[string]domain.MissingInfo) []MissingRow {
	var rows []MissingRow
	for col, info := range m {
		if info.Ratio > 0 {
			rows = append(rows, MissingRow{Column: col, Count: info.Count, Ratio: info.Ratio})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Ratio != rows[j].Ratio {
			return rows[i].Ratio > rows[j].Ratio
		}
		return rows[i].Column < rows[j].Column
	})
	return head(rows, topN)
}

func summarizeOutliers(m map[string]domain.OutlierInfo) []OutlierRow {
	var rows []OutlierRow
	for col, info := range m {
		if info.Count > 0 {
			method := info.Method
			if method == "" {
				method = "IQR"
			}
			rows = append(rows, OutlierRow{Column: col, Count: info.Count, Method: method})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Column < rows[j].Column
	})
	return head(rows, topN)
}

func modelSection(m *domain.TrainedModel) *ModelSection {
	return &ModelSection{
		Name:              m.Name,
		DisplayName:       m.DisplayName,
		Algorithm:         m.Algorithm,
		TaskType:          m.TaskType,
		Metrics:           m.Metrics,
		FeatureImportance: TopFeatures(m.FeatureImportance, topN),
		Hyperparameters:   m.Hyperparameters,
		CrossValScores:    m.CrossValScores,
		IsBest:            m.IsBest,
		ModelSize:         m.ModelSize,
		ModelSizeDisplay:  FormatSize(m.ModelSize),
	}
}

// comparison orders the best model first, then by rank.
func comparison(models []*domain.TrainedModel) []ComparisonRow {
	sorted := append([]*domain.TrainedModel(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsBest != sorted[j].IsBest {
			return sorted[i].IsBest
		}
		return sorted[i].Rank < sorted[j].Rank
	})
	rows := make([]ComparisonRow, 0, len(sorted))
	for _, m := range sorted {
		rows = append(rows, ComparisonRow{
			ID:                m.ID,
			DisplayName:       m.DisplayName,
			Algorithm:         m.Algorithm,
			TaskType:          m.TaskType,
			Rank:              m.Rank,
			IsBest:            m.IsBest,
			Metrics:           m.Metrics,
			FeatureImportance: TopFeatures(m.FeatureImportance, topN),
			CrossValScores:    m.CrossValScores,
			ModelSizeDisplay:  FormatSize(m.ModelSize),
		})
	}
	return rows
}

func metadata(r *Report) Metadata {
	md := Metadata{
		ModelsCount: len(r.Comparison),
		HasModel:    r.Content.Model != nil,
		HasEDA:      r.Content.EDA != nil,
		ChartTypes:  []string{},
	}
	if e := r.Content.EDA; e != nil {
		q := e.QualityScore
		md.QualityScore = &q
		md.TotalInsights = len(e.Insights)
		md.HasAIInsights = e.AIInsights != ""
		if len(e.Distributions) > 0 {
			md.ChartTypes = append(md.ChartTypes, "distribution")
		}
		if len(e.TopCorrelations) > 0 {
			md.ChartTypes = append(md.ChartTypes, "correlation")
		}
		if len(e.Missing) > 0 {
			md.ChartTypes = append(md.ChartTypes, "missing_values")
		}
		if len(e.Outliers) > 0 {
			md.ChartTypes = append(md.ChartTypes, "outliers")
		}
	}
	if m := r.Content.Model; m != nil {
		if len(m.Metrics.ConfusionMatrix) > 0 {
			md.ChartTypes = append(md.ChartTypes, "confusion_matrix")
		}
		if m.Metrics.ROCCurve != nil {
			md.ChartTypes = append(md.ChartTypes, "roc_curve")
		}
		if len(m.FeatureImportance) > 0 {
			md.ChartTypes = append(md.ChartTypes, "feature_importance")
		}
	}
	return md
}

// TopFeatures returns the n most important features, ties broken by name.
func TopFeatures(imp map[string]float64, n int) []FeatureWeight {
	out := make([]FeatureWeight, 0, len(imp))
	for k, v := range imp {
		out = append(out, FeatureWeight{Name: k, Importance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Name < out[j].Name
	})
	return head(out, n)
}

// FormatSize renders a byte count as B, KB or MB.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
