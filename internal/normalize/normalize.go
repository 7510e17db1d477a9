// Package normalize coerces loosely shaped model output into the field types
// of types.Record. Models return lists as bare strings, JSON-encoded strings
// or arrays of objects; numbers with currency symbols; dates in any layout.
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"finvoice-go/internal/types"
)

// objectKeys are the sub-fields joined when an object has to become a string,
// most relevant first.
var objectKeys = []string{
	"name", "speaker", "role",
	"event", "type", "title", "description", "detail", "details",
	"amount", "currency", "date", "due_date",
	"note", "notes", "text", "value", "label",
}

var nullish = map[string]bool{
	"": true, "null": true, "none": true, "nil": true, "n/a": true, "na": true,
	"unknown": true, "not mentioned": true, "not specified": true, "-": true,
}

// Text renders any JSON value as a single line of text.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return flattenObject(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := Text(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// StringList always returns a non-nil slice with blank entries dropped.
func StringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case nil:
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return StringList(decoded)
			}
		}
		if !nullish[strings.ToLower(s)] {
			out = append(out, s)
		}
	case []any:
		for _, item := range t {
			if s := Text(item); s != "" && !nullish[strings.ToLower(s)] {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := Text(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Qualified labels such as "very positive" or "slightly negative" count.
// Negation is checked first so "not positive" is not read as positive.
var (
	negativeWord = regexp.MustCompile(`\b(?:neg(?:ative(?:ly)?)?|bad|angry|frustrated|upset|unhappy|dissatisfied|not\s+(?:positive|good|happy|satisfied))\b`)
	positiveWord = regexp.MustCompile(`\b(?:pos(?:itive(?:ly)?)?|good|happy|satisfied|pleased)\b`)
)

// Sentiment maps labels, scores and objects onto the three-value enum.
// Anything unrecognised is Neutral.
func Sentiment(v any) types.Sentiment {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		switch {
		case negativeWord.MatchString(s):
			return types.SentimentNegative
		case positiveWord.MatchString(s):
			return types.SentimentPositive
		}
	case float64:
		switch {
		case t > 0:
			return types.SentimentPositive
		case t < 0:
			return types.SentimentNegative
		}
	case map[string]any:
		for _, key := range []string{"overall", "label", "sentiment", "value"} {
			if inner, ok := t[key]; ok {
				return Sentiment(inner)
			}
		}
	}
	return types.SentimentNeutral
}

var numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?|-?\.\d+`)

// OptionalNumber extracts the first number from v. Absent or unparseable
// values are nil, never zero.
func OptionalNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		s := strings.TrimSpace(t)
		if nullish[strings.ToLower(s)] {
			return nil
		}
		m := numberPattern.FindString(s)
		if m == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			return nil
		}
		return &f
	case map[string]any:
		for _, key := range []string{"value", "amount", "rate"} {
			if inner, ok := t[key]; ok {
				return OptionalNumber(inner)
			}
		}
	}
	return nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"2-1-2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02 Jan 2006",
}

var ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)\b`)

// OptionalDate returns YYYY-MM-DD when v parses as a date, the trimmed text
// when it does not, and nil when v is absent.
func OptionalDate(v any) *string {
	s := Text(v)
	if nullish[strings.ToLower(s)] {
		return nil
	}
	cleaned := ordinalSuffix.ReplaceAllString(s, "$1")
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, cleaned); err == nil {
			d := ts.Format("2006-01-02")
			return &d
		}
	}
	return &s
}

// OptionalString returns nil for absent and placeholder values.
func OptionalString(v any) *string {
	s := Text(v)
	if nullish[strings.ToLower(s)] {
		return nil
	}
	return &s
}

func flattenObject(obj map[string]any) string {
	var parts []string
	seen := map[string]bool{}
	for _, key := range objectKeys {
		if val, ok := obj[key]; ok {
			seen[key] = true
			if s := Text(val); s != "" && !nullish[strings.ToLower(s)] {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " - ")
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s := Text(obj[k]); s != "" {
			parts = append(parts, k+": "+s)
		}
	}
	return strings.Join(parts, ", ")
}
