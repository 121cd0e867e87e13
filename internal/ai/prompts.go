package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/utils"
)

// Character budgets for the JSON sections embedded in prompts.
const (
	edaSummaryChars  = 2000
	edaSectionChars  = 500
	reportDataChars  = 500
	reportEDAChars   = 1000
	reportModelChars = 500
	questionChars    = 3000
	topImportances   = 10
)

// ReportDigest is the material summarised into an executive summary.
type ReportDigest struct {
	Title            string `json:"title"`
	ReportType       string `json:"report_type"`
	DatasetInfo      any    `json:"dataset_info"`
	EDAHighlights    any    `json:"eda_highlights"`
	ModelPerformance any    `json:"model_performance"`
}

func jsonSection(v any, limit int) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	if limit < 0 {
		return string(b)
	}
	return utils.TruncateChars(string(b), limit)
}

func edaPrompt(r *domain.EDAResult) string {
	var corr any = map[string]any{}
	if r.CorrelationMatrix != nil {
		corr = r.CorrelationMatrix
	}
	return fmt.Sprintf(`Analyze the following exploratory data analysis results and provide actionable insights.

Dataset Summary Statistics:
%s

Missing Value Analysis:
%s

Key Correlations:
%s

Outlier Analysis:
%s

Rule-based Insights:
%s

Please provide:
1. Key findings from the data
2. Data quality issues to address
3. Potential feature engineering opportunities
4. Recommendations for modeling

Keep the response concise but comprehensive. Use bullet points for clarity.`,
		jsonSection(r.SummaryStats, edaSummaryChars),
		jsonSection(r.MissingAnalysis, edaSectionChars),
		jsonSection(corr, edaSectionChars),
		jsonSection(r.OutlierAnalysis, edaSectionChars),
		jsonSection(r.Insights, edaSectionChars),
	)
}

func modelPrompt(m *domain.TrainedModel) string {
	metrics := m.Metrics
	metrics.ROCCurve = nil
	return fmt.Sprintf(`Explain the following trained machine learning model:

Model Name: %s
Algorithm: %s
Task Type: %s

Metrics:
%s

Feature Importance (top %d):
%s

Hyperparameters:
%s

Please provide:
1. Why this model was selected
2. What the metrics indicate about performance
3. Which features are most important and why
4. Recommendations for improving the model

Keep the explanation accessible to non-technical stakeholders.`,
		orUnknown(m.DisplayName), orUnknown(string(m.Algorithm)), orUnknown(string(m.TaskType)),
		jsonSection(metrics, -1),
		topImportances, jsonSection(topFeatures(m.FeatureImportance, topImportances), -1),
		jsonSection(m.Hyperparameters, -1),
	)
}

func reportPrompt(d ReportDigest) string {
	title := d.Title
	if title == "" {
		title = "Data Analysis Report"
	}
	kind := d.ReportType
	if kind == "" {
		kind = "analysis"
	}
	return fmt.Sprintf(`Generate an executive summary for the following data analysis report:

Report Title: %s
Report Type: %s

Dataset Information:
%s

EDA Highlights:
%s

Model Performance:
%s

Please provide a 3-5 paragraph executive summary covering:
1. Dataset overview and quality
2. Key findings from the analysis
3. Model performance and recommendations
4. Next steps and actionable insights

Write in a professional tone suitable for business stakeholders.`,
		title, kind,
		jsonSection(d.DatasetInfo, reportDataChars),
		jsonSection(d.EDAHighlights, reportEDAChars),
		jsonSection(d.ModelPerformance, reportModelChars),
	)
}

func metricPrompt(name string, value float64, task domain.TaskType) string {
	return fmt.Sprintf(`Explain the following machine learning metric in simple terms:

Metric: %s
Value: %s
Task Type: %s

Provide:
1. What this metric measures
2. How to interpret the value (is it good/bad?)
3. What actions to consider based on this value

Keep the explanation concise and accessible to non-technical users.`, name, dataset.FormatFloat(value), task)
}

func questionPrompt(question string, context map[string]any) string {
	return fmt.Sprintf(`Answer the following question about a dataset and/or machine learning model.

Context:
%s

Question: %s

Instructions:
- Answer based only on the provided context
- If you cannot answer from the context, say so clearly
- Keep the answer concise and actionable
- Use simple language accessible to non-technical users`, jsonSection(context, questionChars), question)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// topFeatures keeps the n largest importances.
func topFeatures(imp map[string]float64, n int) map[string]float64 {
	names := make([]string, 0, len(imp))
	for k := range imp {
		names = append(names, k)
	}
	sort.SliceStable(names, func(i, j int) bool {
		if imp[names[i]] != imp[names[j]] {
			return imp[names[i]] > imp[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	out := make(map[string]float64, len(names))
	for _, k := range names {
		out[k] = imp[k]
	}
	return out
}

func percent(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

// FallbackEDAInsights lists the first five rule-based insights.
func FallbackEDAInsights(r *domain.EDAResult) string {
	if r == nil || len(r.Insights) == 0 {
		return "EDA analysis complete. Review the statistics and visualizations for insights."
	}
	var b strings.Builder
	b.WriteString("Key findings from the analysis:")
	for i, in := range r.Insights {
		if i == 5 {
			break
		}
		b.WriteString("\n- " + in.Message)
	}
	return b.String()
}

func FallbackModelExplanation(m *domain.TrainedModel) string {
	if m.TaskType == domain.Classification {
		primary := domain.Value(m.Metrics.F1Weighted, domain.Value(m.Metrics.Accuracy, 0))
		return fmt.Sprintf("Model trained with F1 score of %s. Review metrics for details.", percent(primary))
	}
	return fmt.Sprintf("Model trained with RMSE of %.4f and R² of %s.",
		domain.Value(m.Metrics.RMSE, 0), percent(domain.Value(m.Metrics.R2, 0)))
}

const FallbackReportSummary = "Report generated successfully. Review the detailed sections for insights."

func FallbackMetricExplanation(name string, value float64) string {
	switch strings.ToLower(name) {
	case "accuracy":
		return fmt.Sprintf("Accuracy of %[1]s means the model correctly predicts %[1]s of cases.", percent(value))
	case "f1":
		return fmt.Sprintf("F1 score of %s represents the balance between precision and recall.", percent(value))
	case "f1_weighted":
		return fmt.Sprintf("Weighted F1 of %s accounts for class imbalance in predictions.", percent(value))
	case "precision":
		return fmt.Sprintf("Precision of %s indicates the accuracy of positive predictions.", percent(value))
	case "recall":
		return fmt.Sprintf("Recall of %s shows the proportion of actual positives identified.", percent(value))
	case "rmse":
		return fmt.Sprintf("RMSE of %.4f represents the average prediction error magnitude.", value)
	case "mae":
		return fmt.Sprintf("MAE of %.4f is the average absolute prediction error.", value)
	case "r2":
		return fmt.Sprintf("R² of %s indicates how well the model explains variance in the data.", percent(value))
	}
	return fmt.Sprintf("%s: %s", name, dataset.FormatFloat(value))
}

const FallbackAnswerUnavailable = "AI assistant is not available. Please configure an AI provider."

// FallbackAnswer is the reply when the question could not be answered.
func FallbackAnswer(reason error) string {
	if reason == nil || errors.Is(reason, errUnavailable) {
		return FallbackAnswerUnavailable
	}
	return fmt.Sprintf("Sorry, I couldn't process your question. Error: %v", reason)
}
