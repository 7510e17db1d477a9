// internal/types/record.go
package types

import "strings"

// Sentiment is the overall call sentiment.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
)

// --------------------------------------------
// Structured record returned by the extractor
// --------------------------------------------
type Record struct {
	Summary         string    `json:"summary"`
	Sentiment       Sentiment `json:"sentiment"`
	Speakers        []string  `json:"speakers"`
	Topics          []string  `json:"topics"`
	Intent          string    `json:"intent"`
	EmotionalState  string    `json:"emotional_state"`
	FinancialEvents []string  `json:"financial_events"`
	ComplianceNotes []string  `json:"compliance_notes"`

	// Optional financial fields stay nil when the call does not mention them.
	Amount       *float64 `json:"amount,omitempty"`
	Currency     *string  `json:"currency,omitempty"`
	InterestRate *float64 `json:"interest_rate,omitempty"`
	DueDate      *string  `json:"due_date,omitempty"` // YYYY-MM-DD
}

const degradedPrefix = "Analysis unavailable: "

// DegradedRecord is persisted when the language model backend is unreachable,
// so the transcript is kept even though analysis failed.
func DegradedRecord(reason string) Record {
	return Record{
		Summary:         degradedPrefix + reason,
		Sentiment:       SentimentNeutral,
		Speakers:        []string{},
		Topics:          []string{},
		FinancialEvents: []string{},
		ComplianceNotes: []string{},
	}
}

// Degraded reports whether r was produced by DegradedRecord.
func (r Record) Degraded() bool {
	return strings.HasPrefix(r.Summary, degradedPrefix)
}
