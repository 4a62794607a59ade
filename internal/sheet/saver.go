package sheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	defaultSheet  = "Sheet1"
	maxSheetName  = 31
	maxColWidth   = 100.0
	minColWidth   = 8.0
	fallbackSheet = "Research"
)

// Result is what gets written for one company.
type Result struct {
	Summary       string
	Justification string
	References    []string
	Data          map[string]any
}

// Saver appends one sheet per company to a workbook.
type Saver struct {
	logger *zap.Logger
}

func NewSaver(logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{logger: logger}
}

// Save opens path (or creates it) and adds a sheet for company. Sections and
// fields follow schema when given; otherwise every key in res.Data is written.
// It returns the name of the sheet that was added.
func (s *Saver) Save(path, company string, res Result, schema map[string]any) (string, error) {
	f, created, err := openOrCreate(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := uniqueSheetName(f.GetSheetList(), sanitizeSheetName(company))
	idx, err := f.NewSheet(name)
	if err != nil {
		return "", fmt.Errorf("add sheet %q: %w", name, err)
	}
	if created {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return "", fmt.Errorf("drop default sheet: %w", err)
		}
		idx, _ = f.GetSheetIndex(name)
	}
	f.SetActiveSheet(idx)

	w, err := newSheetWriter(f, name)
	if err != nil {
		return "", err
	}
	if err := w.writeResult(res, schema); err != nil {
		return "", err
	}
	if err := w.fitColumns(); err != nil {
		return "", err
	}

	if created {
		err = f.SaveAs(path)
	} else {
		err = f.Save()
	}
	if err != nil {
		return "", fmt.Errorf("save workbook %s: %w", path, err)
	}
	s.logger.Info("saved research sheet", zap.String("path", path), zap.String("sheet", name))
	return name, nil
}

func openOrCreate(path string) (*excelize.File, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("stat workbook: %w", err)
		}
		return excelize.NewFile(), true, nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("open workbook: %w", err)
	}
	return f, false, nil
}

// sanitizeSheetName removes characters Excel rejects and caps the length.
func sanitizeSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), "'")
	if name == "" {
		name = fallbackSheet
	}
	return truncateName(name, maxSheetName)
}

func uniqueSheetName(existing []string, name string) string {
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[strings.ToLower(e)] = true
	}
	if !taken[strings.ToLower(name)] {
		return name
	}
	for i := 2; ; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		candidate := truncateName(name, maxSheetName-len(suffix)) + suffix
		if !taken[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

func truncateName(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type sheetWriter struct {
	f      *excelize.File
	sheet  string
	row    int
	bold   int
	widths map[int]int
}

func newSheetWriter(f *excelize.File, sheet string) (*sheetWriter, error) {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}
	return &sheetWriter{f: f, sheet: sheet, row: 1, bold: bold, widths: map[int]int{}}, nil
}

func (w *sheetWriter) set(col int, value any, bold bool) error {
	cell, err := excelize.CoordinatesToCellName(col, w.row)
	if err != nil {
		return err
	}
	if err := w.f.SetCellValue(w.sheet, cell, value); err != nil {
		return fmt.Errorf("write %s: %w", cell, err)
	}
	if bold {
		if err := w.f.SetCellStyle(w.sheet, cell, cell, w.bold); err != nil {
			return fmt.Errorf("style %s: %w", cell, err)
		}
	}
	if n := utf8.RuneCountInString(fmt.Sprint(value)); n > w.widths[col] {
		w.widths[col] = n
	}
	return nil
}

func (w *sheetWriter) line(bold bool, values ...any) error {
	for i, v := range values {
		if err := w.set(i+1, v, bold); err != nil {
			return err
		}
	}
	w.row++
	return nil
}

func (w *sheetWriter) title(text string) error {
	return w.line(true, text)
}

func (w *sheetWriter) writeResult(res Result, schema map[string]any) error {
	if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
		for _, key := range orderedKeys(schema) {
			section, _ := props[key].(map[string]any)
			data, _ := res.Data[key].(map[string]any)
			if err := w.section(key, section, data); err != nil {
				return err
			}
		}
	} else if len(res.Data) > 0 {
		if err := w.section("data", nil, res.Data); err != nil {
			return err
		}
	}

	if err := w.title("Summary"); err != nil {
		return err
	}
	if err := w.line(false, res.Summary); err != nil {
		return err
	}
	w.row++

	if err := w.title("Justification"); err != nil {
		return err
	}
	if err := w.line(false, res.Justification); err != nil {
		return err
	}
	w.row++

	if err := w.title("References"); err != nil {
		return err
	}
	for _, ref := range res.References {
		if err := w.line(false, ref); err != nil {
			return err
		}
	}
	return nil
}

// section writes a titled Field/Description/Value table. Nested objects are
// flattened into dotted field names.
func (w *sheetWriter) section(key string, schema map[string]any, data map[string]any) error {
	if err := w.title(humanize(key)); err != nil {
		return err
	}
	if err := w.line(true, "Field", "Description", "Value"); err != nil {
		return err
	}

	var rows [][3]string
	if schema != nil {
		rows = flattenSchema("", schema, data)
	} else {
		rows = flattenData("", data)
	}
	for _, r := range rows {
		if err := w.line(false, r[0], r[1], r[2]); err != nil {
			return err
		}
	}
	w.row++
	return nil
}

func (w *sheetWriter) fitColumns() error {
	for col, n := range w.widths {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		width := float64(n) + 2
		if width > maxColWidth {
			width = maxColWidth
		}
		if width < minColWidth {
			width = minColWidth
		}
		if err := w.f.SetColWidth(w.sheet, name, name, width); err != nil {
			return fmt.Errorf("set width %s: %w", name, err)
		}
	}
	return nil
}

func flattenSchema(prefix string, schema map[string]any, data map[string]any) [][3]string {
	props, _ := schema["properties"].(map[string]any)
	var rows [][3]string
	for _, name := range orderedKeys(schema) {
		field, _ := props[name].(map[string]any)
		path := joinPath(prefix, name)
		if field["type"] == "object" {
			child, _ := data[name].(map[string]any)
			rows = append(rows, flattenSchema(path, field, child)...)
			continue
		}
		desc, _ := field["description"].(string)
		rows = append(rows, [3]string{path, desc, FormatValue(data[name])})
	}
	return rows
}

func flattenData(prefix string, data map[string]any) [][3]string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var rows [][3]string
	for _, k := range keys {
		path := joinPath(prefix, k)
		if child, ok := data[k].(map[string]any); ok {
			rows = append(rows, flattenData(path, child)...)
			continue
		}
		rows = append(rows, [3]string{path, "", FormatValue(data[k])})
	}
	return rows
}

// orderedKeys returns required properties first in their listed order,
// then the remaining properties sorted.
func orderedKeys(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	seen := map[string]bool{}
	var keys []string
	for _, r := range requiredList(schema["required"]) {
		if _, ok := props[r]; ok && !seen[r] {
			keys = append(keys, r)
			seen[r] = true
		}
	}
	var rest []string
	for k := range props {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func requiredList(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// FormatValue renders a JSON value for a single cell.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, FormatValue(item))
		}
		return strings.Join(parts, "; ")
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func humanize(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
