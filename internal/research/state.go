package research

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message records the outcome of one node.
type Message struct {
	Node    string    `json:"node"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// SynthesizedInfo is the combined answer for a topic.
type SynthesizedInfo struct {
	Summary       string         `json:"summary"`
	References    []string       `json:"references"`
	Justification string         `json:"justification"`
	Data          map[string]any `json:"data,omitempty"` // filled when an extraction schema is set
}

// Validation is the reviewer's verdict on a synthesis.
type Validation struct {
	Reasons        []string `json:"reasons"`
	IsSatisfactory bool     `json:"is_satisfactory"`
	NewTopic       string   `json:"new_topic,omitempty"`
}

// WebInfo holds the notes taken from one page.
type WebInfo struct {
	URL   string `json:"url"`
	Notes string `json:"notes"`
}

// State flows through the graph. Zero values are valid inputs except Topic.
type State struct {
	Topic       string `json:"topic"`
	Company     string `json:"company,omitempty"`
	InputExcel  string `json:"input_excel,omitempty"`
	OutputExcel string `json:"output_excel,omitempty"`

	Messages         []Message         `json:"messages"`
	LoopCount        int               `json:"loop_count"`
	URLs             []string          `json:"urls"`
	ExtractedInfo    map[string]string `json:"extracted_info"`
	ExtractionSchema string            `json:"extraction_schema,omitempty"`
	SynthesizedInfo  *SynthesizedInfo  `json:"synthesized_info,omitempty"`
	Validation       *Validation       `json:"validation,omitempty"`
	PreviousInfo     *SynthesizedInfo  `json:"previous_info,omitempty"`

	// IsSatisfactory starts true so a run that never validates still ends.
	IsSatisfactory bool `json:"is_satisfactory"`
}

// NewState returns a state for topic with the documented defaults.
func NewState(topic string) State {
	return State{
		Topic:          topic,
		ExtractedInfo:  map[string]string{},
		IsSatisfactory: true,
	}
}

func (s *State) record(node, format string, args ...any) {
	content := format
	if len(args) > 0 {
		content = fmt.Sprintf(format, args...)
	}
	s.Messages = append(s.Messages, Message{Node: node, Content: content, Time: time.Now()})
}

// SynthesisJSON renders the current synthesis, or "" when there is none.
func (s *State) SynthesisJSON() string {
	if s.SynthesizedInfo == nil {
		return ""
	}
	data, err := json.MarshalIndent(s.SynthesizedInfo, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
