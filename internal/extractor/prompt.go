package extractor

import "fmt"

// SystemPrompt frames the model as a financial call analyst.
const SystemPrompt = "You are a compliance-aware analyst for financial services calls. You read call transcripts and return structured JSON only."

// BuildPrompt builds the extraction prompt for one transcript.
func BuildPrompt(transcript string) string {
	prompt := `Analyze the CALL TRANSCRIPT below and produce a record strictly following the JSON schema.

Your answers MUST be grounded in the transcript:
- NO outside knowledge
- NO invented amounts, dates or rates

If a value is not stated in the call, use null for optional fields and [] for lists.
Tokens such as [MONEY_1], [DATE_1], [RATE_1] or [DETAIL_1] stand for redacted values;
copy them verbatim where the value belongs.

----------------------------------------------------------------------
SCHEMA (STRICT, RETURN ONLY JSON)
{
  "summary": "",
  "sentiment": "Positive | Neutral | Negative",
  "speakers": [],
  "topics": [],
  "intent": "",
  "emotional_state": "",
  "financial_events": [],
  "compliance_notes": [],
  "amount": null,
  "currency": null,
  "interest_rate": null,
  "due_date": null
}
----------------------------------------------------------------------

FIELD GUIDE:
- summary: two or three sentences on what the call was about and how it ended.
- speakers: one short label per participant, e.g. "Agent", "Customer".
- financial_events: payments, defaults, disputes, loan or card events mentioned, one string each.
- compliance_notes: disclosures given or missed, consent, threats, mis-selling risk.
- amount: the main monetary amount as a number without symbols.
- currency: ISO 4217 code when it can be inferred, e.g. "INR", "USD".
- interest_rate: percentage as a number, e.g. 12.5.
- due_date: YYYY-MM-DD.

DO NOT include commentary.
DO NOT wrap the JSON in backticks.

TRANSCRIPT:
%s

----------------------------------------------------------------------
Return ONLY valid JSON that exactly matches the SCHEMA.
`
	return fmt.Sprintf(prompt, transcript)
}
