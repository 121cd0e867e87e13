package domain

import "time"

// ColumnSchema is the inferred schema of one dataset column.
type ColumnSchema struct {
	Name         string     `json:"name"`
	Position     int        `json:"position"`
	Dtype        ColumnType `json:"dtype"`
	StorageType  string     `json:"storage_type"`
	Nullable     bool       `json:"nullable"`
	NullCount    int        `json:"null_count"`
	NullRatio    float64    `json:"null_ratio"`
	UniqueCount  int        `json:"unique_count"`
	SampleValues []any      `json:"sample_values"`
	Min          *float64   `json:"min_value,omitempty"`
	Max          *float64   `json:"max_value,omitempty"`
	Mean         *float64   `json:"mean_value,omitempty"`
}

type Dataset struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	Name         string         `json:"name"`
	FilePath     string         `json:"file_path"`
	FileType     string         `json:"file_type"`
	FileSize     int64          `json:"file_size"`
	RowCount     int            `json:"row_count"`
	ColumnCount  int            `json:"column_count"`
	Columns      []ColumnSchema `gorm:"serializer:json" json:"columns"`
	FileHash     string         `gorm:"index" json:"file_hash"`
	Status       DatasetStatus  `gorm:"index" json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Column returns the schema entry for name.
func (d *Dataset) Column(name string) (ColumnSchema, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

func (d *Dataset) ColumnNames() []string {
	out := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Name
	}
	return out
}

type EDAResult struct {
	ID                string                      `gorm:"primaryKey" json:"id"`
	DatasetID         string                      `gorm:"index" json:"dataset_id"`
	Version           int                         `json:"version"`
	Status            RunStatus                   `gorm:"index" json:"status"`
	CacheKey          string                      `gorm:"index" json:"cache_key"`
	ColumnOrder       []string                    `gorm:"serializer:json" json:"column_order"`
	SummaryStats      map[string]SummaryStats     `gorm:"serializer:json" json:"summary_stats"`
	Distributions     map[string]Distribution     `gorm:"serializer:json" json:"distributions"`
	CorrelationMatrix *CorrelationMatrix          `gorm:"serializer:json" json:"correlation_matrix,omitempty"`
	TopCorrelations   []TopCorrelation            `gorm:"serializer:json" json:"top_correlations"`
	MissingAnalysis   map[string]MissingInfo      `gorm:"serializer:json" json:"missing_analysis"`
	OutlierAnalysis   map[string]OutlierInfo      `gorm:"serializer:json" json:"outlier_analysis"`
	Associations      []Association               `gorm:"serializer:json" json:"associations"`
	DatetimeAnalysis  map[string]DatetimeAnalysis `gorm:"serializer:json" json:"datetime_analysis"`
	TextAnalysis      map[string]TextAnalysis     `gorm:"serializer:json" json:"text_analysis"`
	QualityScore      float64                     `json:"quality_score"`
	Insights          []Insight                   `gorm:"serializer:json" json:"insights"`
	AINarrative       string                      `json:"ai_narrative"`
	RowCount          int                         `json:"row_count"`
	ColumnCount       int                         `json:"column_count"`
	Sampled           bool                        `json:"sampled"`
	SampleSize        int                         `json:"sample_size"`
	ComputationTime   float64                     `json:"computation_time"`
	ErrorMessage      string                      `json:"error_message,omitempty"`
	HeartbeatAt       *time.Time                  `json:"heartbeat_at,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

type TrainingJob struct {
	ID                   string     `gorm:"primaryKey" json:"id"`
	DatasetID            string     `gorm:"index" json:"dataset_id"`
	TargetColumn         string     `json:"target_column"`
	FeatureColumns       []string   `gorm:"serializer:json" json:"feature_columns"`
	TaskType             TaskType   `json:"task_type"`
	TaskTypeAutoDetected bool       `json:"task_type_auto_detected"`
	Status               RunStatus  `gorm:"index" json:"status"`
	Progress             int        `json:"progress"`
	CurrentStep          string     `json:"current_step"`
	BestModelID          string     `json:"best_model_id,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt          *time.Time `json:"heartbeat_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// InputField is the prediction-time contract of one feature column.
type InputField struct {
	Dtype    ColumnType `json:"dtype"`
	Nullable bool       `json:"nullable"`
}

// PreprocessingParams records which columns were numeric vs categorical.
type PreprocessingParams struct {
	NumericCols     []string `json:"numeric_cols"`
	CategoricalCols []string `json:"categorical_cols"`
}

type TrainedModel struct {
	ID                  string                `gorm:"primaryKey" json:"id"`
	TrainingJobID       string                `gorm:"index" json:"training_job_id"`
	DatasetID           string                `gorm:"index" json:"dataset_id"`
	Name                string                `json:"name"`
	DisplayName         string                `json:"display_name"`
	Algorithm           Algorithm             `json:"algorithm_type"`
	TaskType            TaskType              `json:"task_type"`
	FeatureColumns      []string              `gorm:"serializer:json" json:"feature_columns"`
	TargetColumn        string                `json:"target_column"`
	InputSchema         map[string]InputField `gorm:"serializer:json" json:"input_schema"`
	PreprocessingParams PreprocessingParams   `gorm:"serializer:json" json:"preprocessing_params"`
	Metrics             Metrics               `gorm:"serializer:json" json:"metrics"`
	FeatureImportance   map[string]float64    `gorm:"serializer:json" json:"feature_importance"`
	CrossValScores      []float64             `gorm:"serializer:json" json:"cross_val_scores"`
	ShapValues          *ShapSummary          `gorm:"serializer:json" json:"shap_values,omitempty"`
	Hyperparameters     map[string]any        `gorm:"serializer:json" json:"hyperparameters"`
	ArtifactKey         string                `json:"artifact_key"`
	ModelSize           int64                 `json:"model_size"`
	TrainingTime        float64               `json:"training_time"`
	Rank                int                   `json:"rank"`
	IsBest              bool                  `gorm:"index" json:"is_best"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

type PredictionJob struct {
	ID            string               `gorm:"primaryKey" json:"id"`
	ModelID       string               `gorm:"index" json:"model_id"`
	Status        RunStatus            `gorm:"index" json:"status"`
	InputType     string               `json:"input_type"`
	InputFile     string               `json:"input_file,omitempty"`
	RowCount      int                  `json:"row_count"`
	Predictions   []any                `gorm:"serializer:json" json:"predictions"`
	Probabilities []map[string]float64 `gorm:"serializer:json" json:"probabilities,omitempty"`
	OutputKey     string               `json:"output_key,omitempty"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	HeartbeatAt   *time.Time           `json:"heartbeat_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

const (
	InputTypeRecords = "records"
	InputTypeFile    = "file"
)
