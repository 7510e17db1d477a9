package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"finvoice-go/internal/normalize"
	"finvoice-go/internal/types"
)

// Parse decodes raw model output into a canonical record. Output that is not
// a JSON object gets one second chance: code fences and surrounding prose are
// stripped down to the first balanced object.
func Parse(raw string) (types.Record, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return types.Record{}, err
	}
	return normalize.Record(obj), nil
}

func parseObject(raw string) (map[string]any, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		candidate := extractJSON(raw)
		if candidate == "" {
			return nil, &types.ExtractionError{
				Message: "no JSON object in model output",
				Raw:     raw,
				Err:     types.ErrUnparseableOutput,
			}
		}
		obj, err = decodeObject(candidate)
		if err != nil {
			return nil, &types.ExtractionError{
				Message: err.Error(),
				Raw:     raw,
				Err:     types.ErrUnparseableOutput,
			}
		}
	}
	return unwrap(obj), nil
}

func decodeObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("expected a JSON object, got %T", v)
}

// unwrap handles {"record": {...}} style envelopes.
func unwrap(obj map[string]any) map[string]any {
	if _, ok := obj["summary"]; ok || len(obj) != 1 {
		return obj
	}
	for _, v := range obj {
		if inner, ok := v.(map[string]any); ok {
			return inner
		}
	}
	return obj
}

var fence = regexp.MustCompile("```[a-zA-Z]*")

// extractJSON finds the first balanced JSON object in s after removing
// markdown fences. Braces inside string literals are ignored.
func extractJSON(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = fence.ReplaceAllString(s, "")

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
