package notification

import (
	"context"
	"testing"
	"time"

	"formation-review/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var notificationColumns = []string{
	"id", "recipient_id", "type", "title", "message", "is_read", "read_at",
	"application_id", "interview_id", "created_at", "title", "scheduled_date",
}

func strPtr(s string) *string { return &s }

func TestStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	n := &models.Notification{
		ID:            "n-1",
		RecipientID:   "u-1",
		Type:          models.NotificationApplicationSubmitted,
		Title:         "New Application Received",
		Message:       "Amina has applied for Intro to Go",
		ApplicationID: strPtr("501"),
		CreatedAt:     created,
	}

	mock.ExpectExec(`INSERT INTO notifications \(id, recipient_id, type, title, message, application_id, interview_id, created_at\)`).
		WithArgs("n-1", "u-1", "application_submitted", n.Title, n.Message, "501", nil, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewStore(db).Create(context.Background(), n))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List_UnreadOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	interviewAt := time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM notifications n.*WHERE n.recipient_id = \$1 AND n.is_read = FALSE.*LIMIT \$2 OFFSET \$3`).
		WithArgs("u-1", 20, 0).
		WillReturnRows(sqlmock.NewRows(notificationColumns).
			AddRow("n-2", "u-1", "interview_scheduled", "Interview Scheduled!", "msg", false, nil,
				"501", "iv-1", created, "Intro to Go", interviewAt).
			AddRow("n-1", "u-1", "application_approved", "Application Approved!", "msg", false, nil,
				"501", nil, created, "Intro to Go", nil))

	list, err := NewStore(db).List(context.Background(), "u-1", ListFilter{UnreadOnly: true, Limit: 20})
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, models.NotificationInterviewScheduled, list[0].Type)
	require.NotNil(t, list[0].InterviewDate)
	assert.True(t, interviewAt.Equal(*list[0].InterviewDate))
	assert.Equal(t, "Intro to Go", *list[0].FormationTitle)
	assert.Nil(t, list[1].InterviewID)
	assert.Nil(t, list[1].ReadAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkAsRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	store := NewStore(db)

	mock.ExpectExec(`UPDATE notifications\s+SET is_read = TRUE, read_at = \$3\s+WHERE id = \$1 AND recipient_id = \$2 AND is_read = FALSE`).
		WithArgs("n-1", "u-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notifications`).
		WithArgs("n-1", "u-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := store.MarkAsRead(context.Background(), "n-1", "u-1", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkAsRead(context.Background(), "n-1", "u-1", now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkAllAsRead_SetsReadAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE notifications\s+SET is_read = TRUE, read_at = \$2\s+WHERE recipient_id = \$1 AND is_read = FALSE`).
		WithArgs("u-1", now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := NewStore(db).MarkAllAsRead(context.Background(), "u-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE n.id = \$1 AND n.recipient_id = \$2`).
		WithArgs("n-x", "u-1").
		WillReturnRows(sqlmock.NewRows(notificationColumns))

	_, err = NewStore(db).Get(context.Background(), "n-x", "u-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
