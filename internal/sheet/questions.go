// Package sheet reads research question workbooks and writes results to them.
package sheet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Question column headers.
const (
	ColSection   = "section"
	ColFieldName = "field_name"
	ColFieldType = "field_type"
	ColQuestion  = "question"
	ColRequired  = "required"
)

// QuestionRow is one field the research should fill.
type QuestionRow struct {
	Section   string
	FieldName string // dotted names nest, e.g. "ceo.name"
	FieldType string
	Question  string
	Required  bool
}

// ReadQuestions reads the first worksheet of a questions workbook. The first
// row is a header naming the columns; their order does not matter.
func ReadQuestions(path string) ([]QuestionRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open questions workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("questions workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("questions workbook %s is empty", path)
	}

	index := make(map[string]int)
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{ColSection, ColFieldName} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("questions workbook %s: missing %q column", path, col)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []QuestionRow
	for _, row := range rows[1:] {
		q := QuestionRow{
			Section:   cell(row, ColSection),
			FieldName: cell(row, ColFieldName),
			FieldType: cell(row, ColFieldType),
			Question:  cell(row, ColQuestion),
			Required:  parseRequired(cell(row, ColRequired)),
		}
		if q.Section == "" || q.FieldName == "" {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func parseRequired(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		return true
	}
	return false
}

// SectionKey normalizes a section title into a schema property name.
func SectionKey(section string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(section)), " ", "_")
}

// GenerateSchema builds a JSON schema with one required object per section.
func GenerateSchema(rows []QuestionRow) map[string]any {
	properties := map[string]any{}
	var required []string

	for _, row := range rows {
		key := SectionKey(row.Section)
		section, ok := properties[key].(map[string]any)
		if !ok {
			section = newObject()
			properties[key] = section
			required = append(required, key)
		}
		addField(section, row)
	}

	// Sections without required fields carry no "required" list.
	for _, v := range properties {
		pruneEmptyRequired(v.(map[string]any))
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// SchemaJSON renders the schema the way prompts and files expect it.
func SchemaJSON(schema map[string]any) (string, error) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	return string(data), nil
}

func newObject() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

func addField(section map[string]any, row QuestionRow) {
	fieldType := strings.ToLower(row.FieldType)
	if fieldType == "" {
		fieldType = "string"
	}
	parts := strings.Split(row.FieldName, ".")
	parent := section
	for _, part := range parts[:len(parts)-1] {
		props := parent["properties"].(map[string]any)
		child, ok := props[part].(map[string]any)
		if !ok || child["type"] != "object" {
			child = newObject()
			props[part] = child
		}
		ensureObject(child)
		parent = child
	}

	leaf := parts[len(parts)-1]
	props := parent["properties"].(map[string]any)
	if existing, ok := props[leaf].(map[string]any); ok && fieldType == "object" && existing["type"] == "object" {
		// Keep children declared before their parent row.
		existing["description"] = row.Question
	} else {
		field := map[string]any{
			"type":        fieldType,
			"description": row.Question,
		}
		if fieldType == "object" {
			ensureObject(field)
		}
		props[leaf] = field
	}
	if row.Required {
		req := parent["required"].([]string)
		for _, r := range req {
			if r == leaf {
				return
			}
		}
		parent["required"] = append(req, leaf)
	}
}

// ensureObject gives an object declared by its own row the keys nested
// fields are added to.
func ensureObject(obj map[string]any) {
	if _, ok := obj["properties"].(map[string]any); !ok {
		obj["properties"] = map[string]any{}
	}
	if _, ok := obj["required"].([]string); !ok {
		obj["required"] = []string{}
	}
}

func pruneEmptyRequired(obj map[string]any) {
	if req, ok := obj["required"].([]string); ok && len(req) == 0 {
		delete(obj, "required")
	}
	props, _ := obj["properties"].(map[string]any)
	for _, v := range props {
		if child, ok := v.(map[string]any); ok && child["type"] == "object" {
			pruneEmptyRequired(child)
		}
	}
}
