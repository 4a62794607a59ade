// Package prompt renders the named prompt templates used by the agents.
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
)

// Prompt names.
const (
	ExtractInfo   = "extract_info"
	Synthesize    = "synthesize"
	Validate      = "validate"
	Guardrails    = "guardrails"
	SQLGeneration = "sql_generation"
	SQLAnswer     = "sql_answer"

	// examples holds few-shot question/SQL pairs as JSON, not a template.
	examplesName = "examples"
)

// ErrUnknownPrompt is returned by Render for names with no template.
var ErrUnknownPrompt = errors.New("unknown prompt")

//go:embed templates/*.tmpl
var defaults embed.FS

// Example is a few-shot question and its SQL.
type Example struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// Manager holds parsed templates.
type Manager struct {
	templates map[string]*template.Template
	examples  []Example
}

// NewManager loads the embedded defaults and then the files in overrides
// (prompt name -> path). The name "examples" is read as a JSON array.
func NewManager(overrides map[string]string) (*Manager, error) {
	m := &Manager{templates: make(map[string]*template.Template)}

	entries, err := defaults.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read embedded prompts: %w", err)
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		data, err := defaults.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded prompt %s: %w", name, err)
		}
		if err := m.add(name, string(data)); err != nil {
			return nil, err
		}
	}

	for name, path := range overrides {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", name, err)
		}
		if name == examplesName {
			if err := json.Unmarshal(data, &m.examples); err != nil {
				return nil, fmt.Errorf("parse examples %s: %w", path, err)
			}
			continue
		}
		if err := m.add(name, string(data)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustDefault returns a manager with only the embedded prompts.
func MustDefault() *Manager {
	m, err := NewManager(nil)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Manager) add(name, text string) error {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("parse prompt %s: %w", name, err)
	}
	m.templates[name] = tmpl
	return nil
}

// Render executes the named template with data.
func (m *Manager) Render(name string, data any) (string, error) {
	tmpl, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Examples returns the configured few-shot examples, if any.
func (m *Manager) Examples() []Example {
	return m.examples
}

// Names lists the available template names.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
