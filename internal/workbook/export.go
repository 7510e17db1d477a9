package workbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"finvoice-go/internal/insights"
	"finvoice-go/internal/types"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

var resultHeader = []any{
	"Job ID", "Kind", "Status", "Source", "Summary", "Sentiment", "Speakers", "Topics",
	"Intent", "Emotional State", "Financial Events", "Compliance Notes",
	"Amount", "Currency", "Interest Rate", "Due Date",
	"Enhanced Audio", "Error", "Processed At",
}

// Export writes one row per job plus a summary sheet to path.
func Export(path string, jobs []types.Job) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &resultHeader); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(resultHeader))
	if err := f.SetCellStyle(resultsSheet, "A1", lastCol+"1", bold); err != nil {
		return err
	}

	for i, j := range jobs {
		row := jobRow(j)
		if err := f.SetSheetRow(resultsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return fmt.Errorf("write job %s: %w", j.ID, err)
		}
	}
	if err := f.SetColWidth(resultsSheet, "A", lastCol, 18); err != nil {
		return err
	}
	if err := f.SetColWidth(resultsSheet, "E", "E", 60); err != nil {
		return err
	}

	if err := writeSummary(f, insights.Aggregate(jobs)); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func jobRow(j types.Job) []any {
	row := []any{j.ID, string(j.Kind), string(j.Status), j.SourcePath}
	rec := j.Extracted
	if rec == nil {
		rec = &types.Record{}
	}
	row = append(row,
		rec.Summary,
		string(rec.Sentiment),
		strings.Join(rec.Speakers, "; "),
		strings.Join(rec.Topics, "; "),
		rec.Intent,
		rec.EmotionalState,
		strings.Join(rec.FinancialEvents, "; "),
		strings.Join(rec.ComplianceNotes, "; "),
		optional(rec.Amount),
		optional(rec.Currency),
		optional(rec.InterestRate),
		optional(rec.DueDate),
		optional(j.EnhancedAudioRef),
		optional(j.ProcessingError),
	)
	if j.ProcessedAt != nil {
		row = append(row, j.ProcessedAt.UTC().Format(time.RFC3339))
	} else {
		row = append(row, "")
	}
	return row
}

func optional[T any](v *T) any {
	if v == nil {
		return ""
	}
	return *v
}

func writeSummary(f *excelize.File, s insights.Summary) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	card := insights.Recommend(s)
	rows := [][]any{
		{"Total jobs", s.TotalJobs},
		{"Completed", s.ByStatus[types.StatusCompleted]},
		{"Failed", s.ByStatus[types.StatusFailed]},
		{"Processing", s.ByStatus[types.StatusProcessing]},
		{"Degraded", s.Degraded},
		{"Failure rate", s.FailureRate},
		{"Negative rate", s.NegativeRate},
		{},
		{"Insight", card.Insight},
		{"Action", card.Action},
		{"Impact", card.Impact},
		{},
		{"Topic", "Calls"},
	}
	for _, tc := range s.TopTopics {
		rows = append(rows, []any{tc.Topic, tc.Count})
	}
	for i := range rows {
		if len(rows[i]) == 0 {
			continue
		}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &rows[i]); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 40)
}
