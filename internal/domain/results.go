package domain

import "time"

// CategoryCount is one category and its frequency.
type CategoryCount struct {
	Value string  `json:"value"`
	Count int     `json:"count"`
	Ratio float64 `json:"ratio"`
}

// CategoricalProfile enriches summary stats of non-numeric columns.
type CategoricalProfile struct {
	Mode              string          `json:"mode"`
	ModeFrequency     int             `json:"mode_frequency"`
	ModeRatio         float64         `json:"mode_ratio"`
	Entropy           float64         `json:"entropy"`
	NormalizedEntropy float64         `json:"normalized_entropy"`
	CardinalityRatio  float64         `json:"cardinality_ratio"`
	IsBinary          bool            `json:"is_binary"`
	TopCategories     []CategoryCount `json:"top_categories"`
}

// SummaryStats holds per-column statistics. Numeric fields are nil for
// non-numeric columns and for values that are NaN or infinite.
type SummaryStats struct {
	Dtype       ColumnType          `json:"dtype"`
	Count       int                 `json:"count"`
	NullCount   int                 `json:"null_count"`
	NullRatio   float64             `json:"null_ratio"`
	UniqueCount int                 `json:"unique_count"`
	Mean        *float64            `json:"mean,omitempty"`
	Std         *float64            `json:"std,omitempty"`
	Min         *float64            `json:"min,omitempty"`
	Max         *float64            `json:"max,omitempty"`
	Q25         *float64            `json:"25%,omitempty"`
	Q50         *float64            `json:"50%,omitempty"`
	Q75         *float64            `json:"75%,omitempty"`
	Skewness    *float64            `json:"skewness,omitempty"`
	Kurtosis    *float64            `json:"kurtosis,omitempty"`
	Categorical *CategoricalProfile `json:"categorical,omitempty"`
}

// IsNumeric reports whether numeric stats were computed.
func (s SummaryStats) IsNumeric() bool { return s.Dtype == ColumnNumeric }

const (
	DistributionNumeric     = "numeric"
	DistributionCategorical = "categorical"
)

// Distribution is a histogram (numeric) or top-N value counts (categorical).
type Distribution struct {
	Type       string    `json:"type"`
	Bins       []float64 `json:"bins,omitempty"`
	Counts     []int     `json:"counts"`
	Labels     []string  `json:"labels,omitempty"`
	OtherCount int       `json:"other_count,omitempty"`
}

// CorrelationMatrix is a symmetric Pearson matrix over numeric columns.
type CorrelationMatrix struct {
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"values"`
}

// Get returns r for a pair of column names.
func (m *CorrelationMatrix) Get(a, b string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	ia, ib := -1, -1
	for i, c := range m.Columns {
		if c == a {
			ia = i
		}
		if c == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return 0, false
	}
	return m.Values[ia][ib], true
}

type TopCorrelation struct {
	Column1     string  `json:"column1"`
	Column2     string  `json:"column2"`
	Correlation float64 `json:"correlation"`
	Strength    string  `json:"strength"`
}

type MissingInfo struct {
	Count      int     `json:"count"`
	Ratio      float64 `json:"ratio"`
	Percentage float64 `json:"percentage"`
}

type OutlierInfo struct {
	Method     string  `json:"method"`
	Count      int     `json:"count"`
	Ratio      float64 `json:"ratio"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

const (
	AssocCramersV      = "cramers_v"
	AssocPointBiserial = "point_biserial"
	AssocANOVA         = "anova_eta_squared"
)

// Association is a cross-type association between two columns.
type Association struct {
	Kind        string  `json:"kind"`
	Column1     string  `json:"column1"`
	Column2     string  `json:"column2"`
	Value       float64 `json:"value"`
	Statistic   float64 `json:"statistic"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
	Strength    string  `json:"strength"`
}

type DatetimeAnalysis struct {
	Source              string         `json:"source"`
	Min                 time.Time      `json:"min"`
	Max                 time.Time      `json:"max"`
	RangeDays           float64        `json:"range_days"`
	WeekdayDistribution map[string]int `json:"weekday_distribution"`
	MonthDistribution   map[string]int `json:"month_distribution"`
	HourDistribution    map[int]int    `json:"hour_distribution,omitempty"`
}

type TextAnalysis struct {
	AvgLength       float64 `json:"avg_length"`
	MedianLength    float64 `json:"median_length"`
	MinLength       int     `json:"min_length"`
	MaxLength       int     `json:"max_length"`
	AvgWordCount    float64 `json:"avg_word_count"`
	MaxWordCount    int     `json:"max_word_count"`
	HasDigits       bool    `json:"has_digits"`
	HasSpecialChars bool    `json:"has_special_chars"`
}

// Insight is one rule-based finding. Code identifies the rule that fired.
type Insight struct {
	Type     string   `json:"type"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Column   string   `json:"column,omitempty"`
	Value    any      `json:"value,omitempty"`
}

// ROCCurve holds a down-sampled ROC curve; infinite thresholds are nil.
type ROCCurve struct {
	FPR        []float64  `json:"fpr"`
	TPR        []float64  `json:"tpr"`
	Thresholds []*float64 `json:"thresholds"`
}

// Metrics carries task-appropriate evaluation metrics; absent metrics are nil.
type Metrics struct {
	Accuracy              *float64  `json:"accuracy,omitempty"`
	Precision             *float64  `json:"precision,omitempty"`
	Recall                *float64  `json:"recall,omitempty"`
	F1                    *float64  `json:"f1,omitempty"`
	F1Weighted            *float64  `json:"f1_weighted,omitempty"`
	ConfusionMatrix       [][]int   `json:"confusion_matrix,omitempty"`
	ConfusionMatrixLabels []string  `json:"confusion_matrix_labels,omitempty"`
	ROCAUC                *float64  `json:"roc_auc,omitempty"`
	ROCCurve              *ROCCurve `json:"roc_curve,omitempty"`
	MSE                   *float64  `json:"mse,omitempty"`
	RMSE                  *float64  `json:"rmse,omitempty"`
	MAE                   *float64  `json:"mae,omitempty"`
	R2                    *float64  `json:"r2,omitempty"`
	MAPE                  *float64  `json:"mape,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Value dereferences p, returning def when nil.
func Value(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// ShapSummary is the normalized output of the explainer.
type ShapSummary struct {
	ShapImportance      map[string]float64  `json:"shap_importance"`
	TopFeatures         []FeatureImportance `json:"top_features"`
	NumSamplesExplained int                 `json:"num_samples_explained"`
	NumFeatures         int                 `json:"num_features"`
	AlgorithmType       Algorithm           `json:"algorithm_type"`
	Explainer           string              `json:"explainer"`
}
