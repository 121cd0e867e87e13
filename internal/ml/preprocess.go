package ml

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
)

// MissingCategory fills null categorical cells before encoding.
const MissingCategory = "missing"

// Preprocessor is the fitted column transformer shared by every candidate of
// a job: median imputation and standardization for numeric columns, constant
// fill and one-hot encoding for the rest.
type Preprocessor struct {
	Numeric     []string   `msgpack:"numeric"`
	Categorical []string   `msgpack:"categorical"`
	Medians     []float64  `msgpack:"medians"`
	Means       []float64  `msgpack:"means"`
	Scales      []float64  `msgpack:"scales"`
	Categories  [][]string `msgpack:"categories"`
}

// FitPreprocessor learns imputation, scaling and encoding parameters from the
// feature columns of f. Numeric storage kinds are scaled; object and boolean
// columns are one-hot encoded.
func FitPreprocessor(f *dataset.Frame, features []string) (*Preprocessor, error) {
	p := &Preprocessor{}
	var missing []string
	for _, name := range features {
		c, ok := f.Column(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		if c.IsNumeric() {
			p.fitNumeric(c)
		} else {
			p.fitCategorical(c)
		}
	}
	if len(missing) > 0 {
		return nil, errs.MissingColumns(missing)
	}
	if p.Width() == 0 {
		return nil, errs.Validation("no usable feature columns")
	}
	return p, nil
}

func (p *Preprocessor) fitNumeric(c *dataset.Column) {
	vals := c.Floats()
	median, err := stats.Median(vals)
	if err != nil || math.IsNaN(median) {
		median = 0
	}
	n := float64(c.Len())
	var sum float64
	for i := 0; i < c.Len(); i++ {
		sum += imputed(c.Float(i), median)
	}
	mean := 0.0
	if n > 0 {
		mean = sum / n
	}
	var ss float64
	for i := 0; i < c.Len(); i++ {
		d := imputed(c.Float(i), median) - mean
		ss += d * d
	}
	scale := 1.0
	if n > 0 {
		if sd := math.Sqrt(ss / n); sd > 1e-12 {
			scale = sd
		}
	}
	p.Numeric = append(p.Numeric, c.Name)
	p.Medians = append(p.Medians, median)
	p.Means = append(p.Means, mean)
	p.Scales = append(p.Scales, scale)
}

func (p *Preprocessor) fitCategorical(c *dataset.Column) {
	seen := map[string]struct{}{}
	for i := 0; i < c.Len(); i++ {
		seen[category(c, i)] = struct{}{}
	}
	cats := make([]string, 0, len(seen))
	for v := range seen {
		cats = append(cats, v)
	}
	sort.Strings(cats)
	p.Categorical = append(p.Categorical, c.Name)
	p.Categories = append(p.Categories, cats)
}

func imputed(v, median float64) float64 {
	if math.IsNaN(v) {
		return median
	}
	return v
}

func category(c *dataset.Column, i int) string {
	if c.IsNull(i) {
		return MissingCategory
	}
	return c.Key(i)
}

// Width is the number of transformed features.
func (p *Preprocessor) Width() int {
	w := len(p.Numeric)
	for _, cats := range p.Categories {
		w += len(cats)
	}
	return w
}

// FeatureNames returns the transformed feature names, num__<col> and
// cat__<col>_<value>, in output column order.
func (p *Preprocessor) FeatureNames() []string {
	out := make([]string, 0, p.Width())
	for _, name := range p.Numeric {
		out = append(out, "num__"+name)
	}
	for j, name := range p.Categorical {
		for _, v := range p.Categories[j] {
			out = append(out, "cat__"+name+"_"+v)
		}
	}
	return out
}

func (p *Preprocessor) Params() domain.PreprocessingParams {
	return domain.PreprocessingParams{
		NumericCols:     append([]string{}, p.Numeric...),
		CategoricalCols: append([]string{}, p.Categorical...),
	}
}

// Transform encodes f into a dense design matrix. Numeric columns are
// coerced, so text that does not parse is imputed like a null. Unknown
// categories encode as all zeros.
func (p *Preprocessor) Transform(f *dataset.Frame) (*mat.Dense, error) {
	rows := f.Rows()
	if rows == 0 {
		return nil, errs.New(errs.CodeEmptyInput, "no rows to transform")
	}
	var missing []string
	for _, name := range append(append([]string{}, p.Numeric...), p.Categorical...) {
		if _, ok := f.Column(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errs.MissingColumns(missing)
	}

	x := mat.NewDense(rows, p.Width(), nil)
	for j, name := range p.Numeric {
		c, _ := f.Column(name)
		c = c.ToNumeric()
		for i := 0; i < rows; i++ {
			v := imputed(c.Float(i), p.Medians[j])
			x.Set(i, j, (v-p.Means[j])/p.Scales[j])
		}
	}
	off := len(p.Numeric)
	for j, name := range p.Categorical {
		c, _ := f.Column(name)
		index := make(map[string]int, len(p.Categories[j]))
		for k, v := range p.Categories[j] {
			index[v] = k
		}
		for i := 0; i < rows; i++ {
			if k, ok := index[category(c, i)]; ok {
				x.Set(i, off+k, 1)
			}
		}
		off += len(p.Categories[j])
	}
	return x, nil
}
