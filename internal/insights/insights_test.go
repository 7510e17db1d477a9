package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"finvoice-go/internal/types"
)

func completed(sentiment types.Sentiment, topics ...string) types.Job {
	return types.Job{
		Kind:   types.KindAudio,
		Status: types.StatusCompleted,
		Extracted: &types.Record{
			Summary:   "call",
			Sentiment: sentiment,
			Topics:    topics,
		},
	}
}

func TestAggregate(t *testing.T) {
	withAmount := completed(types.SentimentPositive, "Loan")
	withAmount.Extracted.Amount = types.Ptr(1500.0)
	withAmount.Extracted.Currency = types.Ptr("USD")

	degraded := types.Job{Kind: types.KindDocument, Status: types.StatusCompleted, Extracted: types.Ptr(types.DegradedRecord("backend down"))}

	jobs := []types.Job{
		withAmount,
		completed(types.SentimentNegative, "loan", "late fee"),
		completed(types.SentimentNegative, "Late Fee"),
		completed(types.SentimentNeutral),
		degraded,
		{Kind: types.KindAudio, Status: types.StatusFailed},
		{Kind: types.KindAudio, Status: types.StatusProcessing},
	}

	s := Aggregate(jobs)

	assert.Equal(t, 7, s.TotalJobs)
	assert.Equal(t, 5, s.ByStatus[types.StatusCompleted])
	assert.Equal(t, 1, s.ByKind[types.KindDocument])
	assert.Equal(t, 2, s.BySentiment[types.SentimentNegative])
	assert.Equal(t, 1, s.Degraded)
	assert.InDelta(t, 1.0/6.0, s.FailureRate, 1e-9)
	assert.InDelta(t, 0.5, s.NegativeRate, 1e-9)
	assert.Equal(t, 1500.0, s.AmountByCurrency["USD"])

	// topics merge case-insensitively and keep their first spelling
	assert.Equal(t, []TopicCount{{Topic: "Loan", Count: 2}, {Topic: "late fee", Count: 2}}, s.TopTopics)
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	assert.Zero(t, s.TotalJobs)
	assert.Zero(t, s.FailureRate)
	assert.NotNil(t, s.TopTopics)
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    string
	}{
		{"failures first", Summary{FailureRate: 0.5, NegativeRate: 0.9}, "50% of finished jobs failed"},
		{"negative sentiment", Summary{NegativeRate: 0.4, TopTopics: []TopicCount{{Topic: "late fee", Count: 3}}}, `High negative sentiment (40% of analyzed calls), led by "late fee"`},
		{"degraded", Summary{Degraded: 2}, "2 calls were stored without analysis"},
		{"quiet", Summary{NegativeRate: 0.1}, "No strong pattern detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommend(tt.summary).Insight)
		})
	}
}
