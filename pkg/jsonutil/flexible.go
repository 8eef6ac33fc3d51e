package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// LLMs return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Try number
	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	// Try boolean
	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// FlexibleJoinedValue behaves like FlexibleStringValue but also accepts a JSON
// array, converting each element with FlexibleStringValue and joining the
// non-empty results with sep. Generated extraction output often returns code
// lists as ["99213", 99214] where a comma-separated string was requested.
func FlexibleJoinedValue(raw json.RawMessage, sep string) string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return FlexibleStringValue(raw)
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		if s := FlexibleStringValue(item); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}
