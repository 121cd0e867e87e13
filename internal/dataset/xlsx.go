package dataset

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strings"
	"time"
)

type xlsxReader struct{}

func (xlsxReader) CanRead(filename string) bool {
	return FileType(filename) == "xlsx"
}

// Read extracts rows of the selected sheet. With no sheet name and
// SheetIndex <= 0 the first sheet is used.
func (x xlsxReader) Read(p string, opt LoadOptions) ([]string, [][]string, error) {
	header, rows, _, err := x.ReadTyped(p, opt)
	return header, rows, err
}

// ReadTyped is Read plus column kinds: a column whose non-empty cells are all
// date-formatted is KindDatetime, with cells rendered as ISO timestamps.
func (xlsxReader) ReadTyped(p string, opt LoadOptions) ([]string, [][]string, []Kind, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read xlsx: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open xlsx: %w", err)
	}
	sheets := parseWorkbook(readZipFile(zr, "xl/workbook.xml"))
	rels := parseRelationships(readZipFile(zr, "xl/_rels/workbook.xml.rels"))
	target, err := resolveSheet(sheets, rels, opt)
	if err != nil {
		return nil, nil, nil, err
	}
	sheetXML := readZipFile(zr, target)
	if sheetXML == nil {
		return nil, nil, nil, fmt.Errorf("worksheet %s missing from workbook", target)
	}
	rr := newSheetRowReader(sheetXML, parseSharedStrings(readZipFile(zr, "xl/sharedStrings.xml")))
	rr.dateStyles = parseDateStyles(readZipFile(zr, "xl/styles.xml"))
	var header []string
	for {
		row, ok := rr.Next()
		if !ok {
			return nil, nil, nil, fmt.Errorf("no columns to parse from sheet")
		}
		if !blank(row) {
			header = row
			break
		}
	}
	rr.dates, rr.others = nil, nil
	var rows [][]string
	for {
		row, ok := rr.Next()
		if !ok {
			break
		}
		if blank(row) {
			continue
		}
		rows = append(rows, row)
	}
	kinds := make([]Kind, len(header))
	for j := range kinds {
		if j < len(rr.dates) && rr.dates[j] > 0 && (j >= len(rr.others) || rr.others[j] == 0) {
			kinds[j] = KindDatetime
		}
	}
	return header, rows, kinds, nil
}

func resolveSheet(sheets []wbSheet, rels map[string]string, opt LoadOptions) (string, error) {
	if opt.Sheet != "" {
		for _, s := range sheets {
			if strings.EqualFold(s.Name, opt.Sheet) {
				if rel, ok := rels[s.RID]; ok {
					return normalizeRelPath(rel), nil
				}
			}
		}
		names := make([]string, len(sheets))
		for i, s := range sheets {
			names[i] = s.Name
		}
		return "", fmt.Errorf("sheet %q not found, available sheets: %s", opt.Sheet, strings.Join(names, ", "))
	}
	idx := opt.SheetIndex
	if idx <= 0 {
		idx = 1
	}
	// Position in the workbook wins over sheetId, which may have gaps.
	if idx <= len(sheets) {
		if rel, ok := rels[sheets[idx-1].RID]; ok {
			return normalizeRelPath(rel), nil
		}
	}
	return fmt.Sprintf("xl/worksheets/sheet%d.xml", idx), nil
}

type wbSheet struct {
	Name    string
	SheetID int
	RID     string
}

func parseWorkbook(data []byte) []wbSheet {
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var sheets []wbSheet
	for {
		tok, err := dec.Token()
		if err != nil {
			return sheets
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sheet" {
			continue
		}
		var s wbSheet
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "name":
				s.Name = a.Value
			case "sheetId":
				s.SheetID = atoiSafe(a.Value)
			case "id":
				s.RID = a.Value
			}
		}
		sheets = append(sheets, s)
	}
}

// parseRelationships maps relationship ids to their targets.
func parseRelationships(data []byte) map[string]string {
	out := map[string]string{}
	if len(data) == 0 {
		return out
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			continue
		}
		var id, target string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "Id":
				id = a.Value
			case "Target":
				target = a.Value
			}
		}
		if id != "" && target != "" {
			out[id] = target
		}
	}
}

func readZipFile(zr *zip.Reader, name string) []byte {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		return b
	}
	return nil
}

func parseSharedStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out []string
		buf strings.Builder
		inT bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inT = false
			case "si":
				out = append(out, buf.String())
				buf.Reset()
			}
		case xml.CharData:
			if inT {
				buf.Write(se)
			}
		}
	}
}

// builtinDateFormats are the predefined number format ids that render dates
// or times.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	45: true, 46: true, 47: true,
}

// parseDateStyles returns the cellXfs indices whose number format is a date.
func parseDateStyles(data []byte) map[int]bool {
	out := map[int]bool{}
	if len(data) == 0 {
		return out
	}
	custom := map[int]string{}
	var xfs []int
	inCellXfs := false
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "numFmt":
				var id int
				var code string
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "numFmtId":
						id = atoiSafe(a.Value)
					case "formatCode":
						code = a.Value
					}
				}
				custom[id] = code
			case "cellXfs":
				inCellXfs = true
			case "xf":
				if !inCellXfs {
					continue
				}
				id := 0
				for _, a := range se.Attr {
					if a.Name.Local == "numFmtId" {
						id = atoiSafe(a.Value)
					}
				}
				xfs = append(xfs, id)
			}
		case xml.EndElement:
			if se.Name.Local == "cellXfs" {
				inCellXfs = false
			}
		}
	}
	for i, id := range xfs {
		code, ok := custom[id]
		if builtinDateFormats[id] || ok && isDateFormat(code) {
			out[i] = true
		}
	}
	return out
}

var (
	quotedFormat  = regexp.MustCompile(`"[^"]*"`)
	bracketFormat = regexp.MustCompile(`\[[^\]]*\]`)
)

// isDateFormat reports whether a custom format code has date or time tokens
// outside quoted literals and bracketed locale/color sections.
func isDateFormat(code string) bool {
	code = quotedFormat.ReplaceAllString(code, "")
	code = bracketFormat.ReplaceAllString(code, "")
	return strings.ContainsAny(strings.ToLower(code), "ydhs")
}

// excelEpoch is serial day zero in the 1900 date system, shifted past the
// phantom 1900-02-29.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// serialTime renders an Excel serial date as ISO text.
func serialTime(v string) (string, bool) {
	f, ok := ParseFloat(v)
	if !ok || f < 0 {
		return "", false
	}
	t := excelEpoch.Add(time.Duration(math.Round(f*86400)) * time.Second)
	return isoTime(t), true
}

func isoTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

type sheetRowReader struct {
	dec        *xml.Decoder
	shared     []string
	dateStyles map[int]bool
	inRow      bool
	curRow     []string
	maxCol     int
	// per-column counts of date and other non-empty cells
	dates  []int
	others []int
}

func newSheetRowReader(data []byte, shared []string) *sheetRowReader {
	return &sheetRowReader{dec: xml.NewDecoder(bytes.NewReader(data)), shared: shared}
}

// Next returns the next <row>, padded to its widest referenced cell.
func (r *sheetRowReader) Next() ([]string, bool) {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, false
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "row" {
				r.inRow = true
				r.curRow = nil
				r.maxCol = 0
			}
			if r.inRow && se.Name.Local == "c" {
				var ref, typ string
				style := -1
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					case "s":
						style = atoiSafe(a.Value)
					}
				}
				col := colIndexFromRef(ref)
				if col < 0 {
					col = len(r.curRow)
				}
				if col+1 > r.maxCol {
					r.maxCol = col + 1
				}
				val := r.readCellValue(typ)
				if v, isDate := r.dateCell(typ, style, val); isDate {
					val = v
					r.dates = bump(r.dates, col)
				} else if strings.TrimSpace(val) != "" {
					r.others = bump(r.others, col)
				}
				if len(r.curRow) <= col {
					tmp := make([]string, col+1)
					copy(tmp, r.curRow)
					r.curRow = tmp
				}
				r.curRow[col] = val
			}
		case xml.EndElement:
			if se.Name.Local == "row" {
				if len(r.curRow) < r.maxCol {
					tmp := make([]string, r.maxCol)
					copy(tmp, r.curRow)
					r.curRow = tmp
				}
				r.inRow = false
				return r.curRow, true
			}
		}
	}
}

// dateCell converts an ISO date cell or a date-styled serial number.
func (r *sheetRowReader) dateCell(typ string, style int, val string) (string, bool) {
	switch typ {
	case "d":
		for _, l := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(l, val); err == nil {
				return isoTime(t), true
			}
		}
	case "", "n":
		if r.dateStyles[style] {
			return serialTime(val)
		}
	}
	return "", false
}

func bump(counts []int, col int) []int {
	for len(counts) <= col {
		counts = append(counts, 0)
	}
	counts[col]++
	return counts
}

func (r *sheetRowReader) readCellValue(typ string) string {
	var val string
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return val
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "v" || se.Name.Local == "t" {
				var sb strings.Builder
				for {
					tk, er := r.dec.Token()
					if er != nil {
						break
					}
					if ed, ok := tk.(xml.EndElement); ok && (ed.Name.Local == "v" || ed.Name.Local == "t") {
						break
					}
					if ch, ok := tk.(xml.CharData); ok {
						sb.Write(ch)
					}
				}
				val = sb.String()
			}
		case xml.EndElement:
			if se.Name.Local != "c" {
				continue
			}
			switch typ {
			case "s":
				idx := atoiSafe(val)
				if idx >= 0 && idx < len(r.shared) {
					return r.shared[idx]
				}
				return ""
			case "b":
				if val == "1" {
					return "True"
				}
				return "False"
			}
			return val
		}
	}
}

// colIndexFromRef turns a cell reference like "C12" into a 0-based column.
func colIndexFromRef(ref string) int {
	i := 0
	for i < len(ref) {
		c := ref[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' {
			i++
			continue
		}
		break
	}
	s := strings.ToUpper(ref[:i])
	idx := 0
	for j := 0; j < len(s); j++ {
		idx = idx*26 + int(s[j]-'A'+1)
	}
	return idx - 1
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// normalizeRelPath converts relationship targets to zip entry names.
func normalizeRelPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}
