package ml

import "github.com/KaramelBytes/tabforge/internal/domain"

// Capability is a bit set of what a fitted estimator can expose.
type Capability uint8

const (
	SupportsProbability Capability = 1 << iota
	SupportsImportances
	SupportsCoefficients
)

func (c Capability) Has(x Capability) bool { return c&x == x }

// Capabilities resolves what an algorithm exposes for a task.
func Capabilities(a domain.Algorithm, task domain.TaskType) Capability {
	var c Capability
	switch a {
	case domain.AlgoLogisticRegression:
		c = SupportsCoefficients | SupportsProbability
	case domain.AlgoLinearRegression:
		c = SupportsCoefficients
	case domain.AlgoRandomForest, domain.AlgoGradientBoosting:
		c = SupportsImportances
		if task == domain.Classification {
			c |= SupportsProbability
		}
	case domain.AlgoSVM:
		if task == domain.Classification {
			c = SupportsProbability
		}
	}
	return c
}

// Family selects the SHAP explainer strategy.
type Family string

const (
	FamilyTree   Family = "tree"
	FamilyLinear Family = "linear"
	FamilyKernel Family = "kernel"
)

func FamilyOf(a domain.Algorithm) Family {
	switch a {
	case domain.AlgoRandomForest, domain.AlgoGradientBoosting:
		return FamilyTree
	case domain.AlgoLogisticRegression, domain.AlgoLinearRegression:
		return FamilyLinear
	default:
		return FamilyKernel
	}
}

// Candidate is one algorithm registered for a task type.
type Candidate struct {
	Name            string
	DisplayName     string
	Algorithm       domain.Algorithm
	Hyperparameters map[string]any
}

// Candidates lists the fixed candidate set, in training order.
func Candidates(task domain.TaskType) []Candidate {
	forest := map[string]any{"n_estimators": forestTrees, "max_depth": forestDepth, "random_state": Seed}
	boosting := map[string]any{"n_estimators": boostStages, "max_depth": boostDepth, "random_state": Seed}
	if task == domain.Classification {
		return []Candidate{
			{
				Name:            string(domain.AlgoLogisticRegression),
				DisplayName:     "Logistic Regression",
				Algorithm:       domain.AlgoLogisticRegression,
				Hyperparameters: map[string]any{"max_iter": logisticMaxIter, "random_state": Seed},
			},
			{Name: string(domain.AlgoRandomForest), DisplayName: "Random Forest", Algorithm: domain.AlgoRandomForest, Hyperparameters: forest},
			{Name: string(domain.AlgoGradientBoosting), DisplayName: "Gradient Boosting", Algorithm: domain.AlgoGradientBoosting, Hyperparameters: boosting},
			{
				Name:            string(domain.AlgoSVM),
				DisplayName:     "Support Vector Machine",
				Algorithm:       domain.AlgoSVM,
				Hyperparameters: map[string]any{"kernel": "rbf", "probability": true, "random_state": Seed, "max_iter": svmMaxIter},
			},
		}
	}
	return []Candidate{
		{
			Name:            string(domain.AlgoLinearRegression),
			DisplayName:     "Linear Regression",
			Algorithm:       domain.AlgoLinearRegression,
			Hyperparameters: map[string]any{},
		},
		{Name: string(domain.AlgoRandomForest), DisplayName: "Random Forest", Algorithm: domain.AlgoRandomForest, Hyperparameters: forest},
		{Name: string(domain.AlgoGradientBoosting), DisplayName: "Gradient Boosting", Algorithm: domain.AlgoGradientBoosting, Hyperparameters: boosting},
		{
			Name:            string(domain.AlgoSVM),
			DisplayName:     "Support Vector Machine",
			Algorithm:       domain.AlgoSVM,
			Hyperparameters: map[string]any{"kernel": "rbf", "max_iter": svmMaxIter},
		},
	}
}
