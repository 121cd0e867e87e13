// Package ml holds the estimators, the shared preprocessor and the
// serialized model bundle used by training and prediction.
package ml

import (
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
)

const (
	maxClassUniqueRatio = 0.05
	maxClassUnique      = 20
)

// DetectTaskType infers classification vs regression from a target column.
// Non-numeric columns and two-valued columns are classification targets;
// numeric columns with few distinct values relative to their length are too.
func DetectTaskType(c *dataset.Column) domain.TaskType {
	if !c.IsNumeric() {
		return domain.Classification
	}
	n := c.Unique()
	if n == 2 {
		return domain.Classification
	}
	if c.Len() == 0 {
		return domain.Regression
	}
	ratio := float64(n) / float64(c.Len())
	if ratio <= maxClassUniqueRatio && n <= maxClassUnique {
		return domain.Classification
	}
	return domain.Regression
}

// ResolveTaskType returns the explicit task type when set, otherwise the
// detected one. auto reports whether detection was used.
func ResolveTaskType(explicit domain.TaskType, c *dataset.Column) (task domain.TaskType, auto bool, err error) {
	if explicit != "" {
		if !explicit.Valid() {
			return "", false, errs.Validation("unknown task type %q", explicit)
		}
		return explicit, false, nil
	}
	return DetectTaskType(c), true, nil
}
