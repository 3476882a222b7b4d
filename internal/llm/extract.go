package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object out of model output. Models often
// wrap JSON in markdown code fences or surround it with prose.
func ExtractJSON(response string) (map[string]any, error) {
	jsonStr := response
	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			jsonStr = strings.TrimSpace(response[start : start+end])
		}
	} else if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			jsonStr = strings.TrimSpace(response[start : start+end])
		}
	}

	if !strings.HasPrefix(strings.TrimSpace(jsonStr), "{") {
		start := strings.Index(jsonStr, "{")
		end := strings.LastIndex(jsonStr, "}")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("no JSON object in response")
		}
		jsonStr = jsonStr[start : end+1]
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return out, nil
}
