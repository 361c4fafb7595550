package application

import (
	"bytes"
	"testing"
	"time"

	"formation-review/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func intPtr(v int) *int { return &v }

func TestRankApplications(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	apps := []models.Application{
		{ID: "unscored", CreatedAt: base},
		{ID: "low", Score: intPtr(40), CreatedAt: base},
		{ID: "high-late", Score: intPtr(90), CreatedAt: base.Add(time.Hour)},
		{ID: "high-early", Score: intPtr(90), CreatedAt: base},
	}

	ranked := RankApplications(apps)

	ids := make([]string, len(ranked))
	for i, a := range ranked {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"high-early", "high-late", "low", "unscored"}, ids)
	assert.Equal(t, "unscored", apps[0].ID)
}

func TestExportWorkbook(t *testing.T) {
	formation := &models.Formation{ID: "form-1", Title: "Intro to Go", MaxParticipants: 20, CurrentParticipants: 4}
	summary := "Strong Go background"
	apps := []models.Application{
		{ID: "a", CandidateName: "Bea", Status: models.ApplicationPending, Score: intPtr(55), CreatedAt: time.Now()},
		{ID: "b", CandidateName: "Amina", Status: models.ApplicationApproved, Score: intPtr(91), Summary: &summary, CreatedAt: time.Now()},
	}

	data, err := ExportWorkbook(formation, apps, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, rankedSheet}, f.GetSheetList())

	title, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", title)

	rows, err := f.GetRows(rankedSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Rank", rows[0][0])
	assert.Equal(t, "Amina", rows[1][1])
	assert.Equal(t, "91", rows[1][4])
	assert.Equal(t, "Strong Go background", rows[1][6])
	assert.Equal(t, "Bea", rows[2][1])
}
