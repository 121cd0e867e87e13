package domain

// DatasetStatus is the lifecycle of an uploaded dataset.
type DatasetStatus string

const (
	DatasetUploading  DatasetStatus = "uploading"
	DatasetProcessing DatasetStatus = "processing"
	DatasetReady      DatasetStatus = "ready"
	DatasetError      DatasetStatus = "error"
)

// RunStatus is shared by EDA results, training jobs and prediction jobs.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

type TaskType string

const (
	Classification TaskType = "classification"
	Regression     TaskType = "regression"
)

func (t TaskType) Valid() bool { return t == Classification || t == Regression }

// ColumnType is the inferred semantic dtype of a dataset column.
type ColumnType string

const (
	ColumnNumeric     ColumnType = "numeric"
	ColumnBoolean     ColumnType = "boolean"
	ColumnDatetime    ColumnType = "datetime"
	ColumnOrdinal     ColumnType = "ordinal"
	ColumnCategorical ColumnType = "categorical"
	ColumnText        ColumnType = "text"
)

// Algorithm identifies a candidate estimator family.
type Algorithm string

const (
	AlgoLogisticRegression Algorithm = "logistic_regression"
	AlgoLinearRegression   Algorithm = "linear_regression"
	AlgoRandomForest       Algorithm = "random_forest"
	AlgoGradientBoosting   Algorithm = "gradient_boosting"
	AlgoSVM                Algorithm = "svm"
)

// Severity of a rule-based insight. Error sorts first.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rank orders severities error < warning < info.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}
