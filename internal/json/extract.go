// Package json provides JSON extraction utilities for parsing LLM responses.
//
// Models often wrap JSON in markdown fences or surround it with commentary.
// This package pulls the JSON object out of such responses.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON finds and returns the JSON object portion of a response string.
// Handles pure JSON, JSON inside ``` fences, and JSON embedded in prose
// (first '{' to last '}'). Only objects are handled, not top-level arrays.
func ExtractJSON(response string) (string, error) {
	response = stripFences(response)

	var probe interface{}
	if err := json.Unmarshal([]byte(response), &probe); err == nil {
		return response, nil
	}

	start := strings.Index(response, "{")
	if start != -1 {
		end := strings.LastIndex(response, "}")
		if end > start {
			candidate := response[start : end+1]
			if err := json.Unmarshal([]byte(candidate), &probe); err == nil {
				return candidate, nil
			}
		}
	}

	preview := response
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no valid JSON object in response: %q", preview)
}

// ExtractInto extracts the JSON portion of a response and unmarshals it into v.
func ExtractInto(response string, v interface{}) error {
	raw, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return nil
}

// stripFences removes markdown code fences around a response.
func stripFences(response string) string {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}
	return trimmed
}
