package research

import (
	"encoding/json"

	"github.com/samsaffron/enrich/internal/llm"
)

const (
	webInfoToolName    = "record_web_info"
	synthesisToolName  = "record_synthesis"
	validationToolName = "record_validation"
)

func webInfoTool() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        webInfoToolName,
		Description: "Record the notes extracted from one web page.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The URL from which the information was extracted.",
				},
				"notes": map[string]interface{}{
					"type":        "string",
					"description": "The extracted information from the URL relevant to the researched topic.",
				},
			},
			"required": []string{"url", "notes"},
		},
	}
}

// synthesisTool describes SynthesizedInfo. When dataSchema is non-nil the
// "data" property is required and must follow it.
func synthesisTool(dataSchema map[string]interface{}) llm.ToolSpec {
	props := map[string]interface{}{
		"summary": map[string]interface{}{
			"type":        "string",
			"description": "The synthesized information from the extracted data.",
		},
		"references": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "The URLs from which the information was extracted.",
		},
		"justification": map[string]interface{}{
			"type":        "string",
			"description": "Justification of the quality of the synthesized information, naming the information missing or not clear.",
		},
	}
	required := []string{"summary", "references", "justification"}
	if dataSchema != nil {
		props["data"] = dataSchema
		required = append(required, "data")
	}
	return llm.ToolSpec{
		Name:        synthesisToolName,
		Description: "Record the synthesized research result.",
		Schema: map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

func validationTool() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        validationToolName,
		Description: "Record whether the research result is satisfactory.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"reasons": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "At least three reasons why the result is good or bad.",
				},
				"is_satisfactory": map[string]interface{}{
					"type":        "boolean",
					"description": "True when the result is complete and correct.",
				},
				"new_topic": map[string]interface{}{
					"type":        "string",
					"description": "When not satisfactory, a new search topic naming the company and the missing information. Empty otherwise.",
				},
			},
			"required": []string{"reasons", "is_satisfactory", "new_topic"},
		},
	}
}

// parseSchema decodes an extraction schema, returning nil for empty or invalid input.
func parseSchema(text string) map[string]interface{} {
	if text == "" {
		return nil
	}
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(text), &schema); err != nil {
		return nil
	}
	return schema
}
