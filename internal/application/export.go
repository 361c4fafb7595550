package application

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"formation-review/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	rankedSheet  = "Ranked Candidates"
)

// RankApplications orders applications by score, unscored last, then by
// submission time.
func RankApplications(apps []models.Application) []models.Application {
	ranked := make([]models.Application, len(apps))
	copy(ranked, apps)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].Score, ranked[j].Score
		switch {
		case si != nil && sj != nil && *si != *sj:
			return *si > *sj
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})
	return ranked
}

// ExportWorkbook renders the formation's applications as an xlsx workbook
// with a summary sheet and a ranked candidate sheet.
func ExportWorkbook(formation *models.Formation, apps []models.Application, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(rankedSheet); err != nil {
		return nil, err
	}

	ranked := RankApplications(apps)
	if err := writeSummarySheet(f, formation, ranked, generatedAt); err != nil {
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeRankedSheet(f, ranked); err != nil {
		return nil, fmt.Errorf("ranked sheet: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummarySheet(f *excelize.File, formation *models.Formation, ranked []models.Application, generatedAt time.Time) error {
	if err := f.SetColWidth(summarySheet, "A", "A", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 50); err != nil {
		return err
	}

	labelStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	counts := map[models.ApplicationStatus]int{}
	var scored, total int
	for _, a := range ranked {
		counts[a.Status]++
		if a.Score != nil {
			scored++
			total += *a.Score
		}
	}
	average := "-"
	if scored > 0 {
		average = fmt.Sprintf("%.2f", float64(total)/float64(scored))
	}

	rows := [][2]interface{}{
		{"Formation:", formation.Title},
		{"Generated:", generatedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Participants:", fmt.Sprintf("%d / %s", formation.CurrentParticipants, capacityLabel(formation.MaxParticipants))},
		{"Applications:", len(ranked)},
		{"Pending:", counts[models.ApplicationPending]},
		{"Approved:", counts[models.ApplicationApproved]},
		{"Rejected:", counts[models.ApplicationRejected]},
		{"Withdrawn:", counts[models.ApplicationWithdrawn]},
		{"Scored:", scored},
		{"Average Score:", average},
	}
	for i, r := range rows {
		label := fmt.Sprintf("A%d", i+1)
		if err := f.SetCellValue(summarySheet, label, r[0]); err != nil {
			return err
		}
		if err := f.SetCellStyle(summarySheet, label, label, labelStyle); err != nil {
			return err
		}
		if err := f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), r[1]); err != nil {
			return err
		}
	}
	return nil
}

func capacityLabel(limit int) string {
	if limit == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}

func writeRankedSheet(f *excelize.File, ranked []models.Application) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	headers := []string{"Rank", "Candidate", "Email", "Status", "Score", "Quiz Score", "Summary", "Submitted"}
	widths := []float64{8, 25, 30, 12, 10, 12, 60, 20}
	for col, header := range headers {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(rankedSheet, name, name, widths[col]); err != nil {
			return err
		}
		cell := name + "1"
		if err := f.SetCellValue(rankedSheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(rankedSheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for i, a := range ranked {
		row := i + 2
		values := []interface{}{
			i + 1,
			a.CandidateName,
			a.CandidateEmail,
			string(a.Status),
			intOrDash(a.Score),
			intOrDash(a.QuizScore),
			stringOrEmpty(a.Summary),
			a.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(rankedSheet, cell, v); err != nil {
				return err
			}
		}
	}

	return f.SetPanes(rankedSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func intOrDash(v *int) interface{} {
	if v == nil {
		return "-"
	}
	return *v
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
