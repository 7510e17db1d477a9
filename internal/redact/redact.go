// Package redact replaces monetary amounts, dates, rates and long digit runs
// with numbered tokens before text leaves the process, and restores them in
// model output.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Token kinds, in the order they are applied. Digit runs go last so they do
// not swallow amounts.
const (
	KindMoney  = "MONEY"
	KindDate   = "DATE"
	KindRate   = "RATE"
	KindDetail = "DETAIL"
)

var rules = []struct {
	kind string
	re   *regexp.Regexp
}{
	{KindMoney, regexp.MustCompile(`(?i)(?:\$|₹|€|£)\s?[\d,]+(?:\.\d{2})?|[\d,]*\d(?:\.\d{2})?\s+(?:rupees|dollars|cents|euros|inr|usd)\b`)},
	{KindDate, regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?|\b\d{4}-\d{2}-\d{2}\b`)},
	{KindRate, regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:%|percent\b)`)},
	{KindDetail, regexp.MustCompile(`\b(?:\d[-,]?){4,}\b`)},
}

// Vault maps a token such as "[MONEY_1]" to the text it replaced.
type Vault map[string]string

// Redact returns text with every sensitive span replaced by a token.
func Redact(text string) (string, Vault) {
	vault := Vault{}
	counters := map[string]int{}

	for _, rule := range rules {
		text = rule.re.ReplaceAllStringFunc(text, func(match string) string {
			counters[rule.kind]++
			token := fmt.Sprintf("[%s_%d]", rule.kind, counters[rule.kind])
			vault[token] = match
			return token
		})
	}
	return text, vault
}

// Restore puts the original values back wherever tokens appear in s.
func (v Vault) Restore(s string) string {
	if len(v) == 0 || !strings.Contains(s, "[") {
		return s
	}
	tokens := make([]string, 0, len(v))
	for token := range v {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	pairs := make([]string, 0, len(tokens)*2)
	for _, token := range tokens {
		pairs = append(pairs, token, v[token])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
