package ml

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
)

// SortLabels orders class labels numerically when all of them parse as
// numbers, lexically otherwise.
func SortLabels(labels []string) {
	numeric := true
	vals := make(map[string]float64, len(labels))
	for _, l := range labels {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			numeric = false
			break
		}
		vals[l] = v
	}
	if numeric {
		sort.SliceStable(labels, func(i, j int) bool { return vals[labels[i]] < vals[labels[j]] })
		return
	}
	sort.Strings(labels)
}

// EncodeClasses maps a non-null target column to class indices over its
// sorted distinct labels.
func EncodeClasses(c *dataset.Column) ([]float64, []string) {
	seen := map[string]struct{}{}
	var classes []string
	for i := 0; i < c.Len(); i++ {
		l := c.Key(i)
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			classes = append(classes, l)
		}
	}
	SortLabels(classes)
	index := make(map[string]int, len(classes))
	for k, l := range classes {
		index[l] = k
	}
	y := make([]float64, c.Len())
	for i := range y {
		y[i] = float64(index[c.Key(i)])
	}
	return y, classes
}

// Pipeline couples the shared preprocessor with one fitted estimator.
type Pipeline struct {
	Pre        *Preprocessor `msgpack:"preprocessor"`
	Model      *Model        `msgpack:"model"`
	Classes    []string      `msgpack:"classes,omitempty"`
	TargetKind dataset.Kind  `msgpack:"target_kind"`
}

func (p *Pipeline) classification() bool { return p.Model.Task == domain.Classification }

// Labels maps predicted class indices to their label text.
func (p *Pipeline) Labels(pred []float64) []string {
	out := make([]string, len(pred))
	for i, v := range pred {
		k := int(v)
		if k >= 0 && k < len(p.Classes) {
			out[i] = p.Classes[k]
		}
	}
	return out
}

// label converts a class label back to the target's storage type.
func (p *Pipeline) label(text string) any {
	switch p.TargetKind {
	case dataset.KindNumeric:
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			return v
		}
	case dataset.KindBool:
		return text == "True"
	}
	return text
}

// Predict scores f: class labels typed like the training target for
// classification, floats for regression.
func (p *Pipeline) Predict(f *dataset.Frame) ([]any, error) {
	x, err := p.Pre.Transform(f)
	if err != nil {
		return nil, err
	}
	pred := p.Model.Predict(x)
	out := make([]any, len(pred))
	if p.classification() {
		for i, l := range p.Labels(pred) {
			out[i] = p.label(l)
		}
		return out, nil
	}
	for i, v := range pred {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite prediction at row %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// PredictProba returns per-row class probabilities keyed by label.
func (p *Pipeline) PredictProba(f *dataset.Frame) ([]map[string]float64, error) {
	x, err := p.Pre.Transform(f)
	if err != nil {
		return nil, err
	}
	proba, err := p.Model.PredictProba(x)
	if err != nil {
		return nil, err
	}
	n, k := proba.Dims()
	out := make([]map[string]float64, n)
	for i := range out {
		row := make(map[string]float64, k)
		for j := 0; j < k && j < len(p.Classes); j++ {
			row[p.Classes[j]] = proba.At(i, j)
		}
		out[i] = row
	}
	return out, nil
}

// Transform exposes the fitted preprocessor.
func (p *Pipeline) Transform(f *dataset.Frame) (*mat.Dense, error) {
	return p.Pre.Transform(f)
}

// Bundle is the persisted model artifact.
type Bundle struct {
	Pipeline       *Pipeline       `msgpack:"pipeline"`
	FeatureColumns []string        `msgpack:"feature_columns"`
	TargetColumn   string          `msgpack:"target_column"`
	TaskType       domain.TaskType `msgpack:"task_type"`
	TrainingDate   time.Time       `msgpack:"training_date"`
}

func (b *Bundle) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode model bundle: %w", err)
	}
	return data, nil
}

func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode model bundle: %w", err)
	}
	if b.Pipeline == nil || b.Pipeline.Pre == nil || b.Pipeline.Model == nil {
		return nil, fmt.Errorf("decode model bundle: incomplete pipeline")
	}
	return &b, nil
}
