package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/tabforge/internal/errs"
)

// Kind is the storage type of a column, as a dataframe library would infer
// it while reading: numbers, booleans, or generic objects. Datetime columns
// only come from sources that type their cells.
type Kind int

const (
	KindObject Kind = iota
	KindNumeric
	KindBool
	KindDatetime
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "float64"
	case KindBool:
		return "bool"
	case KindDatetime:
		return "datetime64[ns]"
	default:
		return "object"
	}
}

// nullTokens are read as missing values.
var nullTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsNullToken reports whether s denotes a missing value.
func IsNullToken(s string) bool {
	_, ok := nullTokens[strings.TrimSpace(s)]
	return ok
}

// Column is one named, typed column. Null cells keep an empty raw value and a
// NaN numeric value.
type Column struct {
	Name  string
	Kind  Kind
	raw   []string
	nulls []bool
	nums  []float64
}

// NewColumn builds a column from raw cell text and infers its kind.
func NewColumn(name string, cells []string) *Column {
	c := &Column{
		Name:  name,
		raw:   make([]string, len(cells)),
		nulls: make([]bool, len(cells)),
	}
	for i, v := range cells {
		v = strings.TrimSpace(v)
		if IsNullToken(v) {
			c.nulls[i] = true
			continue
		}
		c.raw[i] = v
	}
	c.Kind = inferKind(c.raw, c.nulls)
	c.nums = make([]float64, len(cells))
	for i := range c.raw {
		c.nums[i] = math.NaN()
		if c.nulls[i] {
			continue
		}
		switch c.Kind {
		case KindNumeric:
			c.nums[i], _ = ParseFloat(c.raw[i])
		case KindBool:
			b, _ := parseBool(c.raw[i])
			c.raw[i] = boolText(b)
			if b {
				c.nums[i] = 1
			} else {
				c.nums[i] = 0
			}
		}
	}
	return c
}

// NumericColumn builds a numeric column; NaN marks a null.
func NumericColumn(name string, vals []float64) *Column {
	c := &Column{
		Name:  name,
		Kind:  KindNumeric,
		raw:   make([]string, len(vals)),
		nulls: make([]bool, len(vals)),
		nums:  make([]float64, len(vals)),
	}
	for i, v := range vals {
		c.nums[i] = v
		if math.IsNaN(v) {
			c.nulls[i] = true
			continue
		}
		c.raw[i] = FormatFloat(v)
	}
	return c
}

// DatetimeColumn builds a datetime column from timestamp text. Cells that
// do not parse as a time are null.
func DatetimeColumn(name string, vals []string) *Column {
	c := &Column{
		Name:  name,
		Kind:  KindDatetime,
		raw:   make([]string, len(vals)),
		nulls: make([]bool, len(vals)),
		nums:  make([]float64, len(vals)),
	}
	for i, v := range vals {
		c.nums[i] = math.NaN()
		v = strings.TrimSpace(v)
		if IsNullToken(v) {
			c.nulls[i] = true
			continue
		}
		if _, ok := ParseTime(v); !ok {
			c.nulls[i] = true
			continue
		}
		c.raw[i] = v
	}
	return c
}

// StringColumn builds an object column without kind inference.
func StringColumn(name string, vals []string) *Column {
	c := NewColumn(name, vals)
	if c.Kind != KindObject {
		for i := range c.raw {
			if !c.nulls[i] {
				c.raw[i] = strings.TrimSpace(vals[i])
			}
			c.nums[i] = math.NaN()
		}
		c.Kind = KindObject
	}
	return c
}

func inferKind(raw []string, nulls []bool) Kind {
	numeric, boolean, seen := true, true, false
	for i, v := range raw {
		if nulls[i] {
			continue
		}
		seen = true
		if numeric {
			if _, ok := ParseFloat(v); !ok {
				numeric = false
			}
		}
		if boolean {
			if _, ok := parseBool(v); !ok {
				boolean = false
			}
		}
		if !numeric && !boolean {
			return KindObject
		}
	}
	switch {
	case !seen, numeric:
		return KindNumeric
	case boolean:
		return KindBool
	}
	return KindObject
}

// StorageType names the column's storage dtype, distinguishing integer-valued
// numeric columns.
func (c *Column) StorageType() string {
	if c.Kind != KindNumeric {
		return c.Kind.String()
	}
	seen := false
	for i, v := range c.nums {
		if c.nulls[i] {
			continue
		}
		seen = true
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return "float64"
		}
	}
	if seen && c.NullCount() == 0 {
		return "int64"
	}
	return "float64"
}

// ParseFloat parses a plain decimal or scientific number.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// FormatFloat renders v the shortest way, without a trailing ".0".
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "True", "TRUE", "true":
		return true, true
	case "False", "FALSE", "false":
		return false, true
	}
	return false, false
}

func boolText(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (c *Column) Len() int { return len(c.raw) }

func (c *Column) IsNull(i int) bool { return c.nulls[i] }

func (c *Column) IsNumeric() bool { return c.Kind == KindNumeric }

// String returns the textual value of row i ("" when null).
func (c *Column) String(i int) string { return c.raw[i] }

// Key is the identity of row i for counting and grouping. Numeric cells
// compare by parsed value, so "1" and "1.0" are the same key.
func (c *Column) Key(i int) string {
	if c.Kind == KindNumeric && !c.nulls[i] {
		return FormatFloat(c.nums[i])
	}
	return c.raw[i]
}

// Time returns the timestamp of row i for datetime columns.
func (c *Column) Time(i int) (time.Time, bool) {
	if c.Kind != KindDatetime || c.nulls[i] {
		return time.Time{}, false
	}
	return ParseTime(c.raw[i])
}

// Float returns the numeric value of row i: NaN for nulls and object columns.
func (c *Column) Float(i int) float64 { return c.nums[i] }

// Value returns row i as nil, float64, bool or string.
func (c *Column) Value(i int) any {
	if c.nulls[i] {
		return nil
	}
	switch c.Kind {
	case KindNumeric:
		return c.nums[i]
	case KindBool:
		return c.nums[i] == 1
	default:
		return c.raw[i]
	}
}

func (c *Column) NullCount() int {
	n := 0
	for _, b := range c.nulls {
		if b {
			n++
		}
	}
	return n
}

// Floats returns the non-null numeric values in row order.
func (c *Column) Floats() []float64 {
	out := make([]float64, 0, len(c.nums))
	for i, v := range c.nums {
		if !c.nulls[i] && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Strings returns the non-null textual values in row order.
func (c *Column) Strings() []string {
	out := make([]string, 0, len(c.raw))
	for i, v := range c.raw {
		if !c.nulls[i] {
			out = append(out, v)
		}
	}
	return out
}

// Unique counts distinct non-null values.
func (c *Column) Unique() int {
	seen := make(map[string]struct{})
	for i := range c.raw {
		if !c.nulls[i] {
			seen[c.Key(i)] = struct{}{}
		}
	}
	return len(seen)
}

// ValueCount is one distinct value and its frequency.
type ValueCount struct {
	Value string
	Count int
}

// ValueCounts lists distinct non-null values by descending frequency. Ties
// keep first-occurrence order.
func (c *Column) ValueCounts() []ValueCount {
	idx := make(map[string]int)
	var out []ValueCount
	for i := range c.raw {
		if c.nulls[i] {
			continue
		}
		v := c.Key(i)
		if j, ok := idx[v]; ok {
			out[j].Count++
			continue
		}
		idx[v] = len(out)
		out = append(out, ValueCount{Value: v, Count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// ToNumeric coerces the column to numeric; unparseable cells become null.
func (c *Column) ToNumeric() *Column {
	if c.Kind == KindNumeric {
		return c
	}
	vals := make([]float64, c.Len())
	for i := range vals {
		vals[i] = math.NaN()
		if c.nulls[i] {
			continue
		}
		if c.Kind == KindBool {
			vals[i] = c.nums[i]
			continue
		}
		if f, ok := ParseFloat(c.raw[i]); ok {
			vals[i] = f
		}
	}
	return NumericColumn(c.Name, vals)
}

func (c *Column) take(rows []int) *Column {
	out := &Column{
		Name:  c.Name,
		Kind:  c.Kind,
		raw:   make([]string, len(rows)),
		nulls: make([]bool, len(rows)),
		nums:  make([]float64, len(rows)),
	}
	for j, i := range rows {
		out.raw[j] = c.raw[i]
		out.nulls[j] = c.nulls[i]
		out.nums[j] = c.nums[i]
	}
	return out
}

// Frame is a column-oriented table.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewFrame assembles columns of equal length with unique names.
func NewFrame(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if i == 0 {
			f.rows = c.Len()
		} else if c.Len() != f.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), f.rows)
		}
		if _, dup := f.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		f.index[c.Name] = i
		f.cols = append(f.cols, c)
	}
	return f, nil
}

func (f *Frame) Rows() int { return f.rows }

func (f *Frame) Width() int { return len(f.cols) }

func (f *Frame) Columns() []*Column { return f.cols }

func (f *Frame) Names() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.Name
	}
	return out
}

func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Take returns the rows at the given positions, in that order.
func (f *Frame) Take(rows []int) *Frame {
	out := &Frame{index: f.index, rows: len(rows)}
	for _, c := range f.cols {
		out.cols = append(out.cols, c.take(rows))
	}
	return out
}

// Head returns at most n leading rows.
func (f *Frame) Head(n int) *Frame {
	if n >= f.rows {
		return f
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return f.Take(rows)
}

// Select projects the frame onto names, failing with MISSING_COLUMNS when
// any is absent.
func (f *Frame) Select(names []string) (*Frame, error) {
	var missing []string
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, ok := f.Column(n)
		if !ok {
			missing = append(missing, n)
			continue
		}
		cols = append(cols, c)
	}
	if len(missing) > 0 {
		return nil, errs.MissingColumns(missing)
	}
	out, err := NewFrame(cols...)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		out.rows = f.rows
	}
	return out, nil
}

// Replace swaps in a column with the same name.
func (f *Frame) Replace(c *Column) error {
	i, ok := f.index[c.Name]
	if !ok {
		return errs.MissingColumns([]string{c.Name})
	}
	if c.Len() != f.rows {
		return fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), f.rows)
	}
	cols := append([]*Column(nil), f.cols...)
	cols[i] = c
	f.cols = cols
	return nil
}

// DropNull removes rows where column name is null.
func (f *Frame) DropNull(name string) *Frame {
	c, ok := f.Column(name)
	if !ok {
		return f
	}
	var keep []int
	for i := 0; i < f.rows; i++ {
		if !c.IsNull(i) {
			keep = append(keep, i)
		}
	}
	if len(keep) == f.rows {
		return f
	}
	return f.Take(keep)
}

// Records renders each row as a column→value map.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.rows)
	for i := range out {
		rec := make(map[string]any, len(f.cols))
		for _, c := range f.cols {
			rec[c.Name] = c.Value(i)
		}
		out[i] = rec
	}
	return out
}

// FromRecords builds a frame from inline records. When columns is empty the
// union of record keys is used, sorted by name.
func FromRecords(records []map[string]any, columns []string) (*Frame, error) {
	if len(columns) == 0 {
		seen := map[string]struct{}{}
		for _, r := range records {
			for k := range r {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					columns = append(columns, k)
				}
			}
		}
		sort.Strings(columns)
	}
	cols := make([]*Column, len(columns))
	for j, name := range columns {
		cells := make([]string, len(records))
		for i, r := range records {
			cells[i] = cellText(r[name])
		}
		cols[j] = NewColumn(name, cells)
	}
	return NewFrame(cols...)
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return boolText(t)
	case float64:
		if math.IsNaN(t) {
			return ""
		}
		return FormatFloat(t)
	case float32:
		return FormatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
