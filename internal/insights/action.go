package insights

import "fmt"

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	failureThreshold  = 0.2
	negativeThreshold = 0.35
)

// Recommend picks the most pressing follow-up for a summary. Pipeline
// failures outrank customer sentiment.
func Recommend(s Summary) ActionCard {
	if s.FailureRate >= failureThreshold {
		return ActionCard{
			Insight: fmt.Sprintf("%.0f%% of finished jobs failed", s.FailureRate*100),
			Action:  "Run diagnostics and reprocess failed jobs once the cause is fixed",
			Impact:  "Recover calls that currently have no transcript",
		}
	}
	if s.NegativeRate >= negativeThreshold {
		insight := fmt.Sprintf("High negative sentiment (%.0f%% of analyzed calls)", s.NegativeRate*100)
		if len(s.TopTopics) > 0 {
			insight += fmt.Sprintf(", led by %q", s.TopTopics[0].Topic)
		}
		return ActionCard{
			Insight: insight,
			Action:  "Route negative calls to a retention specialist and review the leading topic",
			Impact:  "Reduce churn and repeat escalations",
		}
	}
	if s.Degraded > 0 {
		return ActionCard{
			Insight: fmt.Sprintf("%d calls were stored without analysis", s.Degraded),
			Action:  "Check language model credentials and reprocess degraded jobs",
			Impact:  "Complete the structured record for every call",
		}
	}
	return ActionCard{
		Insight: "No strong pattern detected",
		Action:  "Monitor and collect more data",
		Impact:  "Low immediate intervention",
	}
}
