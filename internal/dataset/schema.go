package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/logger"
)

const sampleValues = 5

// stringNulls are placeholder strings treated as missing during semantic
// type inference only.
var stringNulls = map[string]struct{}{
	"n/a": {}, "na": {}, "null": {}, "none": {}, "-": {}, "": {}, "nan": {}, "missing": {},
	"unknown": {}, "undefined": {}, "nil": {}, "#n/a": {}, "#na": {}, "not available": {},
	".": {}, "?": {}, "n.a.": {}, "n.a": {}, "--": {}, "---": {},
}

// ordinalPatterns maps column-name fragments to their ordered levels.
var ordinalPatterns = map[string][]string{
	"education":    {"high school", "associate", "bachelor", "master", "phd", "doctorate"},
	"degree":       {"high school", "associate", "bachelor", "master", "phd", "doctorate"},
	"satisfaction": {"very poor", "poor", "fair", "good", "very good", "excellent"},
	"quality":      {"very poor", "poor", "fair", "good", "very good", "excellent"},
	"rating":       {"very poor", "poor", "fair", "good", "very good", "excellent"},
	"size":         {"xs", "extra small", "small", "medium", "large", "xl", "extra large", "xxl"},
	"company_size": {"small", "medium", "large", "enterprise"},
	"priority":     {"low", "medium", "high", "critical", "urgent"},
	"importance":   {"low", "medium", "high", "very high"},
	"frequency":    {"never", "rarely", "sometimes", "often", "always"},
	"agreement":    {"strongly disagree", "disagree", "neutral", "agree", "strongly agree"},
	"experience":   {"entry", "junior", "mid", "senior", "lead", "principal"},
	"level":        {"entry", "junior", "mid", "senior", "lead", "principal"},
	"income":       {"low", "lower middle", "middle", "upper middle", "high"},
}

// Schema profiles every column of f.
func Schema(f *Frame) []domain.ColumnSchema {
	out := make([]domain.ColumnSchema, 0, f.Width())
	for pos, c := range f.Columns() {
		n := c.Len()
		nulls := c.NullCount()
		cs := domain.ColumnSchema{
			Name:         c.Name,
			Position:     pos,
			Dtype:        SemanticType(c),
			StorageType:  c.StorageType(),
			Nullable:     nulls > 0,
			NullCount:    nulls,
			UniqueCount:  c.Unique(),
			SampleValues: []any{},
		}
		if n > 0 {
			cs.NullRatio = float64(nulls) / float64(n)
		}
		for i := 0; i < n && len(cs.SampleValues) < sampleValues; i++ {
			if v := c.Value(i); v != nil {
				cs.SampleValues = append(cs.SampleValues, v)
			}
		}
		if cs.Dtype == domain.ColumnNumeric {
			if vals := c.ToNumeric().Floats(); len(vals) > 0 {
				lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
				for _, v := range vals {
					lo = math.Min(lo, v)
					hi = math.Max(hi, v)
					sum += v
				}
				cs.Min = domain.Float(lo)
				cs.Max = domain.Float(hi)
				cs.Mean = domain.Float(sum / float64(len(vals)))
			}
		}
		out = append(out, cs)
	}
	return out
}

// SemanticType infers the user-facing dtype of a column: boolean, numeric,
// datetime, ordinal, categorical or free text.
func SemanticType(c *Column) domain.ColumnType {
	switch c.Kind {
	case KindBool:
		return domain.ColumnBoolean
	case KindDatetime:
		return domain.ColumnDatetime
	case KindNumeric:
		vals := c.Floats()
		if len(vals) > 0 && binary01(vals) {
			return domain.ColumnBoolean
		}
		return domain.ColumnNumeric
	}

	var clean []string
	for _, v := range c.Strings() {
		if _, isNull := stringNulls[strings.ToLower(strings.TrimSpace(v))]; !isNull {
			clean = append(clean, v)
		}
	}
	if len(clean) > 0 && looksLikeDates(clean) {
		return domain.ColumnDatetime
	}
	uniq := map[string]struct{}{}
	for _, v := range clean {
		uniq[v] = struct{}{}
	}
	if isOrdinal(c.Name, uniq) {
		return domain.ColumnOrdinal
	}
	if n := c.Len(); n > 0 {
		ratio := float64(len(uniq)) / float64(n)
		if ratio < 0.5 && len(uniq) <= 100 {
			return domain.ColumnCategorical
		}
	}
	return domain.ColumnText
}

func binary01(vals []float64) bool {
	for _, v := range vals {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

func looksLikeDates(vals []string) bool {
	if len(vals) > 100 {
		vals = vals[:100]
	}
	for _, v := range vals {
		if _, ok := ParseTime(v); !ok {
			return false
		}
	}
	return true
}

func isOrdinal(name string, uniq map[string]struct{}) bool {
	if len(uniq) == 0 || len(uniq) > 10 {
		return false
	}
	lname := strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(name))
	lower := make(map[string]struct{}, len(uniq))
	for v := range uniq {
		lower[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	for key, levels := range ordinalPatterns {
		if !strings.Contains(lname, key) {
			continue
		}
		matches := 0
		for _, lv := range levels {
			if _, ok := lower[lv]; ok {
				matches++
			}
		}
		if float64(matches) >= float64(len(lower))*0.5 {
			return true
		}
	}
	return false
}

// Parse loads the dataset's file and fills its counts, schema, hash and
// status. On failure the dataset is left in the error state.
func Parse(d *domain.Dataset, opt LoadOptions) (*Frame, error) {
	log := logger.WithDataset(d.ID)
	d.Status = domain.DatasetProcessing
	f, err := parse(d, opt)
	if err != nil {
		log.Errorf("Failed to parse dataset %s: %v", d.ID, err)
		d.Status = domain.DatasetError
		d.ErrorMessage = err.Error()
		if errs.CodeOf(err) == errs.CodeFileParsing {
			return nil, err
		}
		return nil, errs.Wrap(errs.CodeFileParsing, err, "Failed to parse file").
			WithMeta("filename", filepath.Base(d.FilePath))
	}
	d.Status = domain.DatasetReady
	d.ErrorMessage = ""
	log.Infof("Successfully parsed dataset %s: %d rows, %d columns", d.ID, d.RowCount, d.ColumnCount)
	return f, nil
}

func parse(d *domain.Dataset, opt LoadOptions) (*Frame, error) {
	info, err := os.Stat(d.FilePath)
	if err != nil {
		return nil, err
	}
	f, err := Load(d.FilePath, opt)
	if err != nil {
		return nil, err
	}
	hash, err := HashFile(d.FilePath)
	if err != nil {
		return nil, err
	}
	d.FileType = FileType(d.FilePath)
	d.FileSize = info.Size()
	d.FileHash = hash
	d.RowCount = f.Rows()
	d.ColumnCount = f.Width()
	d.Columns = Schema(f)
	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(d.FilePath), filepath.Ext(d.FilePath))
	}
	return f, nil
}

// HashFile returns the hex sha256 of the file content.
func HashFile(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hash: %w", err)
	}
	defer fh.Close()
	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SampleIndices draws n distinct row positions out of rows, deterministically
// for a given seed, returned in ascending order.
func SampleIndices(rows, n int, seed int64) []int {
	if n >= rows {
		idx := make([]int, rows)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(rows)[:n]
	sort.Ints(idx)
	return idx
}

// Sample draws a deterministic uniform sample of n rows without replacement.
// Frames with at most n rows are returned unchanged.
func Sample(f *Frame, n int, seed int64) *Frame {
	if n <= 0 || f.Rows() <= n {
		return f
	}
	return f.Take(SampleIndices(f.Rows(), n, seed))
}

// Preview is the first rows of a frame in a serialisable shape.
type Preview struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
}

func NewPreview(f *Frame, n int) Preview {
	return Preview{Columns: f.Names(), Rows: f.Head(n).Records(), TotalRows: f.Rows()}
}
