package prompt

// Template inputs. Overriding templates may use any of these fields.

type ExtractInfoData struct {
	Topic   string
	URL     string
	Content string
}

type SynthesizeData struct {
	Topic            string
	ExtractedInfo    string // JSON
	PreviousInfo     string // JSON, empty on the first pass
	ExtractionSchema string // JSON schema, optional
}

type ValidateData struct {
	Topic           string
	SynthesizedInfo string // JSON
}

type GuardrailsData struct {
	Text    string
	Refusal string
}

type SQLGenerationData struct {
	Question string
	Schema   string // JSON
	Examples []Example
	RowLimit int
}

type SQLAnswerData struct {
	Question  string
	SQL       string
	Rows      string // JSON
	RowCount  int
	Truncated bool
}
