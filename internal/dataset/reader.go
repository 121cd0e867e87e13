// Package dataset reads tabular source files into column-oriented frames and
// infers their schema.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/KaramelBytes/tabforge/internal/errs"
)

// LoadOptions tune reading. Sheet selects an XLSX sheet by name, SheetIndex
// by 1-based position. MaxRows limits data rows when positive.
type LoadOptions struct {
	Sheet      string
	SheetIndex int
	MaxRows    int
}

// Reader turns a file into a header and raw rows.
type Reader interface {
	CanRead(filename string) bool
	Read(path string, opt LoadOptions) (header []string, rows [][]string, err error)
}

// typedReader is a Reader whose source types its cells. kinds has one entry
// per header column; KindObject leaves the column to inference.
type typedReader interface {
	ReadTyped(path string, opt LoadOptions) (header []string, rows [][]string, kinds []Kind, err error)
}

var registry []Reader

// Register adds a reader implementation to the registry.
func Register(r Reader) {
	registry = append(registry, r)
}

func init() {
	Register(csvReader{})
	Register(xlsxReader{})
}

// ErrUnsupported indicates a file extension no reader accepts.
var ErrUnsupported = errors.New("unsupported file type")

// FileType returns the lowercase extension without the dot.
func FileType(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Load reads path with the first matching reader, cleans column names and
// builds typed columns.
func Load(path string, opt LoadOptions) (*Frame, error) {
	var rd Reader
	for _, r := range registry {
		if r.CanRead(path) {
			rd = r
			break
		}
	}
	if rd == nil {
		return nil, errs.Newf(errs.CodeFileParsing, "Unsupported file type: %s", FileType(path)).
			WithMeta("filename", filepath.Base(path))
	}
	var (
		header []string
		rows   [][]string
		kinds  []Kind
		err    error
	)
	if tr, ok := rd.(typedReader); ok {
		header, rows, kinds, err = tr.ReadTyped(path, opt)
	} else {
		header, rows, err = rd.Read(path, opt)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileParsing, err, "Error reading file").
			WithMeta("filename", filepath.Base(path))
	}
	return build(header, rows, kinds, opt.MaxRows)
}

func build(header []string, rows [][]string, kinds []Kind, maxRows int) (*Frame, error) {
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	names := CleanColumnNames(header)
	cols := make([]*Column, len(names))
	cells := make([]string, len(rows))
	for j, name := range names {
		for i, r := range rows {
			if j < len(r) {
				cells[i] = r[j]
			} else {
				cells[i] = ""
			}
		}
		if j < len(kinds) && kinds[j] == KindDatetime {
			cols[j] = DatetimeColumn(name, cells)
			continue
		}
		cols[j] = NewColumn(name, cells)
	}
	return NewFrame(cols...)
}

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// CleanColumnNames replaces non-word characters and whitespace runs with
// underscores. Empty names become column_{i}; case-insensitive duplicates
// get numeric suffixes.
func CleanColumnNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		name = nonWord.ReplaceAllString(name, "_")
		name = whitespace.ReplaceAllString(name, "_")
		if name == "" || name == "_" {
			name = fmt.Sprintf("column_%d", i)
		}
		base := name
		for n := 1; ; n++ {
			if _, dup := seen[strings.ToLower(name)]; !dup {
				break
			}
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[strings.ToLower(name)] = struct{}{}
		out[i] = name
	}
	return out
}

type csvReader struct{}

func (csvReader) CanRead(filename string) bool {
	switch FileType(filename) {
	case "csv", "tsv", "txt":
		return true
	}
	return false
}

func (csvReader) Read(path string, _ LoadOptions) ([]string, [][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, nil, err
	}
	return ParseCSV(text, sniffDelimiter(path, text))
}

// ParseCSV splits decoded CSV text. Blank lines are skipped.
func ParseCSV(text []byte, delim rune) ([]string, [][]string, error) {
	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, errors.New("no columns to parse from file")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// fallbackEncodings are tried in order when the bytes are not valid UTF-8.
var fallbackEncodings = []encoding.Encoding{
	charmap.ISO8859_1,
	charmap.Windows1252,
}

// decodeText returns UTF-8 text with any byte order mark removed.
func decodeText(b []byte) ([]byte, error) {
	if utf8.Valid(b) {
		return unicode.UTF8BOM.NewDecoder().Bytes(b)
	}
	var lastErr error
	for _, enc := range fallbackEncodings {
		out, err := enc.NewDecoder().Bytes(b)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("could not decode CSV file, please ensure it uses UTF-8 encoding: %w", lastErr)
}

// sniffDelimiter picks the most frequent candidate separator on the header line.
func sniffDelimiter(path string, text []byte) rune {
	if FileType(path) == "tsv" {
		return '\t'
	}
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestN := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := strings.Count(string(line), string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
