package normalize

import (
	"strings"

	"finvoice-go/internal/types"
)

// Record builds a canonical record from a decoded model response. Keys are
// matched case-insensitively and in either snake_case or camelCase.
func Record(raw map[string]any) types.Record {
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[canonicalKey(k)] = v
	}
	get := func(names ...string) any {
		for _, name := range names {
			if v, ok := fields[name]; ok {
				return v
			}
		}
		return nil
	}

	rec := types.Record{
		Summary:         Text(get("summary")),
		Sentiment:       Sentiment(get("sentiment")),
		Speakers:        StringList(get("speakers", "participants")),
		Topics:          StringList(get("topics", "keytopics")),
		Intent:          Text(get("intent", "customerintent")),
		EmotionalState:  Text(get("emotionalstate", "emotion", "emotions")),
		FinancialEvents: StringList(get("financialevents", "events")),
		ComplianceNotes: StringList(get("compliancenotes", "compliance", "complianceflags")),
		Amount:          OptionalNumber(get("amount")),
		Currency:        OptionalString(get("currency")),
		InterestRate:    OptionalNumber(get("interestrate", "rate")),
		DueDate:         OptionalDate(get("duedate", "date")),
	}
	if rec.Currency != nil {
		upper := strings.ToUpper(*rec.Currency)
		rec.Currency = &upper
	}
	return rec
}

func canonicalKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}
