package interview

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"formation-review/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var interviewColumns = []string{
	"id", "application_id", "scheduled_by", "scheduled_date", "duration", "meeting_type",
	"meeting_link", "location", "notes", "status", "calendar_event_id", "rescheduled_from",
	"created_at", "updated_at", "full_name", "title",
}

var (
	testNow  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testWhen = time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)
)

func interviewRow(id string, status models.InterviewStatus, eventID string, rescheduledFrom driver.Value) *sqlmock.Rows {
	return sqlmock.NewRows(interviewColumns).AddRow(
		id, "app-1", "rec-1", testWhen, 45, "online",
		"https://meet.google.com/abc", "", "Bring portfolio", string(status), eventID, rescheduledFrom,
		testNow, testNow, "Amina Diallo", "Intro to Go",
	)
}

func TestRepository_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectQuery(`FROM interviews i.*JOIN users u ON u.id = a.candidate_id.*WHERE i.id = \$1`).
		WithArgs("iv-2").
		WillReturnRows(interviewRow("iv-2", models.InterviewScheduled, "evt-1", "iv-1"))
	mock.ExpectQuery(`WHERE i.id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(interviewColumns))

	iv, err := repo.Get(context.Background(), "iv-2")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingOnline, iv.MeetingType)
	assert.Equal(t, models.InterviewScheduled, iv.Status)
	assert.Equal(t, "iv-1", *iv.RescheduledFrom)
	assert.Equal(t, "Amina Diallo", iv.CandidateName)
	assert.Equal(t, "Intro to Go", iv.FormationTitle)
	assert.Equal(t, testWhen.Add(45*time.Minute), iv.End())

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Get_MalformedIDIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("abc").WillReturnError(&pq.Error{Code: "22P02"})

	_, err = NewRepository(db).Get(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_StatusUpdatesAreConditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectExec(`UPDATE interviews\s+SET status = \$2, updated_at = \$3\s+WHERE id = \$1 AND status = 'scheduled'`).
		WithArgs("iv-1", "cancelled", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE interviews`).
		WithArgs("iv-1", "completed", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Cancel(context.Background(), "iv-1", testNow))
	assert.ErrorIs(t, repo.Complete(context.Background(), "iv-1", testNow), ErrStaleTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Reschedule(t *testing.T) {
	from := "iv-1"
	next := &models.Interview{
		ID: "iv-2", ApplicationID: "app-1", ScheduledBy: "rec-1", ScheduledDate: testWhen, Duration: 60,
		MeetingType: models.MeetingPhone, Status: models.InterviewScheduled, RescheduledFrom: &from,
		CreatedAt: testNow, UpdatedAt: testNow,
	}

	t.Run("commits both statements", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE interviews`).
			WithArgs("iv-1", "rescheduled", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO interviews`).
			WithArgs("iv-2", "app-1", "rec-1", testWhen, 60, "phone", "", "", "", "scheduled", "", "iv-1", testNow, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, NewRepository(db).Reschedule(context.Background(), "iv-1", next))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE interviews`).
			WithArgs("iv-1", "rescheduled", testNow).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = NewRepository(db).Reschedule(context.Background(), "iv-1", next)
		assert.ErrorIs(t, err, ErrStaleTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_SetCalendarEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SET calendar_event_id = \$2, meeting_link = COALESCE\(NULLIF\(\$3, ''\), meeting_link\)`).
		WithArgs("iv-1", "evt-1", "", testNow).
		WillReturnError(errors.New("conn reset"))

	err = NewRepository(db).SetCalendarEvent(context.Background(), "iv-1", "evt-1", "", testNow)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
