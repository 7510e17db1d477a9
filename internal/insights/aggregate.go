// Package insights rolls finished jobs up into dashboard figures.
package insights

import (
	"sort"
	"strings"

	"finvoice-go/internal/types"
)

type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

type Summary struct {
	TotalJobs    int                     `json:"total_jobs"`
	ByStatus     map[types.JobStatus]int `json:"by_status"`
	ByKind       map[types.Kind]int      `json:"by_kind"`
	BySentiment  map[types.Sentiment]int `json:"by_sentiment"`
	TopTopics    []TopicCount            `json:"top_topics"`
	Degraded     int                     `json:"degraded"`
	FailureRate  float64                 `json:"failure_rate"`
	NegativeRate float64                 `json:"negative_rate"`
	// AmountByCurrency sums the amounts mentioned in analyzed calls.
	AmountByCurrency map[string]float64 `json:"amount_by_currency"`
}

const topTopics = 5

func Aggregate(jobs []types.Job) Summary {
	s := Summary{
		TotalJobs:        len(jobs),
		ByStatus:         map[types.JobStatus]int{},
		ByKind:           map[types.Kind]int{},
		BySentiment:      map[types.Sentiment]int{},
		AmountByCurrency: map[string]float64{},
		TopTopics:        []TopicCount{},
	}

	topics := map[string]int{}
	display := map[string]string{}
	analyzed := 0
	for _, j := range jobs {
		s.ByStatus[j.Status]++
		s.ByKind[j.Kind]++
		if j.Status != types.StatusCompleted || j.Extracted == nil {
			continue
		}
		rec := j.Extracted
		if rec.Degraded() {
			s.Degraded++
			continue
		}
		analyzed++
		s.BySentiment[rec.Sentiment]++
		for _, t := range rec.Topics {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				continue
			}
			if _, ok := display[key]; !ok {
				display[key] = strings.TrimSpace(t)
			}
			topics[key]++
		}
		if rec.Amount != nil {
			cur := "UNKNOWN"
			if rec.Currency != nil && *rec.Currency != "" {
				cur = *rec.Currency
			}
			s.AmountByCurrency[cur] += *rec.Amount
		}
	}

	finished := s.ByStatus[types.StatusCompleted] + s.ByStatus[types.StatusFailed]
	if finished > 0 {
		s.FailureRate = float64(s.ByStatus[types.StatusFailed]) / float64(finished)
	}
	if analyzed > 0 {
		s.NegativeRate = float64(s.BySentiment[types.SentimentNegative]) / float64(analyzed)
	}

	for key, n := range topics {
		s.TopTopics = append(s.TopTopics, TopicCount{Topic: display[key], Count: n})
	}
	sort.Slice(s.TopTopics, func(i, k int) bool {
		if s.TopTopics[i].Count != s.TopTopics[k].Count {
			return s.TopTopics[i].Count > s.TopTopics[k].Count
		}
		return s.TopTopics[i].Topic < s.TopTopics[k].Topic
	})
	if len(s.TopTopics) > topTopics {
		s.TopTopics = s.TopTopics[:topTopics]
	}
	return s
}
