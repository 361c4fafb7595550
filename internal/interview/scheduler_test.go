package interview

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"formation-review/internal/common/auth"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/models"
	"formation-review/internal/notification"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	reviewer  = &auth.Identity{UserID: "rec-1", Role: auth.RoleRecruiter, Email: "rec@example.com"}
	candidate = &auth.Identity{UserID: "cand-1", Role: auth.RoleCandidate}
	// CET keeps the local 14:30 request at 13:30 UTC.
	cet = time.FixedZone("CET", 3600)
)

type fakeApps struct {
	app *models.Application
}

func (f *fakeApps) Get(_ context.Context, actor *auth.Identity, id string) (*models.Application, error) {
	if f.app == nil || f.app.ID != id {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	if actor.UserID != f.app.CandidateID && actor.UserID != f.app.InstructorID {
		return nil, apperrors.NewPermissionDeniedError("not visible")
	}
	cp := *f.app
	return &cp, nil
}

func (f *fakeApps) AuthorizeReview(_ context.Context, actor *auth.Identity, id string) (*models.Application, error) {
	if f.app == nil || f.app.ID != id {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	if actor == nil || actor.UserID != f.app.InstructorID {
		return nil, apperrors.NewPermissionDeniedError("reviewer does not instruct this formation")
	}
	cp := *f.app
	return &cp, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingNotifier) Emit(_ context.Context, ev notification.Event) (*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return &models.Notification{ID: "n-1"}, nil
}

type fakeCalendar struct {
	createErr error
	created   []EventRequest
	cancelled []string
	updated   []string
}

func (f *fakeCalendar) CreateEvent(_ context.Context, req EventRequest) (*Event, error) {
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &Event{ID: "evt-1", JoinURL: "https://meet.google.com/new"}, nil
}

func (f *fakeCalendar) CancelEvent(_ context.Context, eventID string) error {
	f.cancelled = append(f.cancelled, eventID)
	return nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID string, _, _ time.Time) error {
	f.updated = append(f.updated, eventID)
	return errors.New("calendar unavailable")
}

func (f *fakeCalendar) HealthCheck(context.Context) error { return nil }

type schedulerFixture struct {
	mock      sqlmock.Sqlmock
	db        *sql.DB
	scheduler *Scheduler
	notifier  *recordingNotifier
	calendar  *fakeCalendar
	apps      *fakeApps
}

func newSchedulerFixture(t *testing.T, status models.ApplicationStatus) *schedulerFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &schedulerFixture{
		mock:     mock,
		db:       db,
		notifier: &recordingNotifier{},
		calendar: &fakeCalendar{},
		apps: &fakeApps{app: &models.Application{
			ID:             "app-1",
			CandidateID:    "cand-1",
			Status:         status,
			CandidateName:  "Amina Diallo",
			CandidateEmail: "amina@example.com",
			FormationTitle: "Intro to Go",
			InstructorID:   "rec-1",
		}},
	}
	f.scheduler = NewScheduler(NewRepository(db), f.apps, f.notifier, f.calendar,
		SchedulerConfig{Location: cet}, logger.NewTestLogger(t))
	f.scheduler.now = func() time.Time { return testNow }
	return f
}

func TestScheduler_Schedule(t *testing.T) {
	f := newSchedulerFixture(t, models.ApplicationApproved)

	f.mock.ExpectExec(`INSERT INTO interviews`).
		WithArgs(sqlmock.AnyArg(), "app-1", "rec-1", testWhen, 60, "online", "", "", "Bring portfolio",
			"scheduled", "", nil, testNow, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`SET calendar_event_id`).
		WithArgs(sqlmock.AnyArg(), "evt-1", "https://meet.google.com/new", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	iv, err := f.scheduler.Schedule(context.Background(), reviewer, ScheduleInput{
		ApplicationID: "app-1",
		Date:          "2026-03-10",
		Time:          "14:30",
		Notes:         "Bring portfolio",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InterviewScheduled, iv.Status)
	assert.Equal(t, models.DefaultInterviewDuration, iv.Duration)
	assert.Equal(t, "evt-1", iv.CalendarEventID)
	assert.Equal(t, "https://meet.google.com/new", iv.MeetingLink)

	require.Len(t, f.calendar.created, 1)
	req := f.calendar.created[0]
	assert.Equal(t, "Interview: Intro to Go - Amina Diallo", req.Title)
	assert.Equal(t, []string{"amina@example.com", "rec@example.com"}, req.Attendees)
	assert.True(t, req.Online)
	assert.Equal(t, testWhen.Add(time.Hour), req.End)

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, "cand-1", ev.RecipientID)
	assert.Equal(t, models.NotificationInterviewScheduled, ev.Type)
	assert.Equal(t, "Interview Scheduled!", ev.Title)
	assert.Equal(t, "An interview has been scheduled for Intro to Go on 2026-03-10 at 14:30.", ev.Message)
	assert.Equal(t, iv.ID, *ev.InterviewID)
	assert.Equal(t, testWhen, *ev.InterviewDate)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestScheduler_Schedule_CalendarFailureKeepsInterview(t *testing.T) {
	f := newSchedulerFixture(t, models.ApplicationApproved)
	f.calendar.createErr = errors.New("quota exceeded")

	f.mock.ExpectExec(`INSERT INTO interviews`).WillReturnResult(sqlmock.NewResult(0, 1))

	iv, err := f.scheduler.Schedule(context.Background(), reviewer, ScheduleInput{
		ApplicationID: "app-1", Date: "2026-03-10", Time: "14:30", MeetingType: "in_person", Location: "Room 4",
	})
	require.NoError(t, err)
	assert.Empty(t, iv.CalendarEventID)
	assert.False(t, f.calendar.created[0].Online)
	assert.Len(t, f.notifier.events, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestScheduler_Schedule_Guards(t *testing.T) {
	valid := ScheduleInput{ApplicationID: "app-1", Date: "2026-03-10", Time: "14:30"}

	tests := []struct {
		name     string
		status   models.ApplicationStatus
		actor    *auth.Identity
		mutate   func(in *ScheduleInput)
		wantCode apperrors.ErrorCode
	}{
		{"missing time", models.ApplicationApproved, reviewer, func(in *ScheduleInput) { in.Time = "" }, apperrors.ErrCodeValidation},
		{"unparsable date", models.ApplicationApproved, reviewer, func(in *ScheduleInput) { in.Date = "2026-13-40" }, apperrors.ErrCodeValidation},
		{"unknown meeting type", models.ApplicationApproved, reviewer, func(in *ScheduleInput) { in.MeetingType = "carrier_pigeon" }, apperrors.ErrCodeValidation},
		{"duration too long", models.ApplicationApproved, reviewer, func(in *ScheduleInput) { in.Duration = 600 }, apperrors.ErrCodeValidation},
		{"pending application", models.ApplicationPending, reviewer, func(*ScheduleInput) {}, apperrors.ErrCodePreconditionFailed},
		{"candidate caller", models.ApplicationApproved, candidate, func(*ScheduleInput) {}, apperrors.ErrCodePermissionDenied},
		{"unknown application", models.ApplicationApproved, reviewer, func(in *ScheduleInput) { in.ApplicationID = "app-9" }, apperrors.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t, tt.status)
			in := valid
			tt.mutate(&in)

			_, err := f.scheduler.Schedule(context.Background(), tt.actor, in)
			assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v", err)
			assert.Empty(t, f.notifier.events)
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestScheduler_Cancel(t *testing.T) {
	f := newSchedulerFixture(t, models.ApplicationApproved)

	f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
		WillReturnRows(interviewRow("iv-1", models.InterviewScheduled, "evt-1", nil))
	f.mock.ExpectExec(`UPDATE interviews`).WithArgs("iv-1", "cancelled", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
		WillReturnRows(interviewRow("iv-1", models.InterviewCancelled, "evt-1", nil))

	iv, err := f.scheduler.Cancel(context.Background(), reviewer, "iv-1")
	require.NoError(t, err)
	assert.Equal(t, models.InterviewCancelled, iv.Status)
	assert.Equal(t, []string{"evt-1"}, f.calendar.cancelled)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "Interview Cancelled", f.notifier.events[0].Title)
	assert.Equal(t, "Your interview for Intro to Go on 2026-03-10 at 14:30 has been cancelled.", f.notifier.events[0].Message)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestScheduler_Cancel_Conflicts(t *testing.T) {
	t.Run("already cancelled", func(t *testing.T) {
		f := newSchedulerFixture(t, models.ApplicationApproved)
		f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
			WillReturnRows(interviewRow("iv-1", models.InterviewCancelled, "", nil))

		_, err := f.scheduler.Cancel(context.Background(), reviewer, "iv-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
		assert.Empty(t, f.calendar.cancelled)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("lost race reports the winner", func(t *testing.T) {
		f := newSchedulerFixture(t, models.ApplicationApproved)
		f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
			WillReturnRows(interviewRow("iv-1", models.InterviewScheduled, "", nil))
		f.mock.ExpectExec(`UPDATE interviews`).WithArgs("iv-1", "cancelled", testNow).
			WillReturnResult(sqlmock.NewResult(0, 0))
		f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
			WillReturnRows(interviewRow("iv-1", models.InterviewCompleted, "", nil))

		_, err := f.scheduler.Cancel(context.Background(), reviewer, "iv-1")
		stdErr, ok := apperrors.AsStandard(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, stdErr.Code)
		assert.Equal(t, "completed", stdErr.Metadata["from"])
		assert.Empty(t, f.notifier.events)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("outsider", func(t *testing.T) {
		f := newSchedulerFixture(t, models.ApplicationApproved)
		f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
			WillReturnRows(interviewRow("iv-1", models.InterviewScheduled, "", nil))

		_, err := f.scheduler.Cancel(context.Background(), &auth.Identity{UserID: "rec-2", Role: auth.RoleRecruiter}, "iv-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestScheduler_Reschedule(t *testing.T) {
	f := newSchedulerFixture(t, models.ApplicationApproved)
	newWhen := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

	f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
		WillReturnRows(interviewRow("iv-1", models.InterviewScheduled, "evt-1", nil))
	f.mock.ExpectBegin()
	f.mock.ExpectExec(`UPDATE interviews`).WithArgs("iv-1", "rescheduled", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO interviews`).
		WithArgs(sqlmock.AnyArg(), "app-1", "rec-1", newWhen, 45, "online", "https://meet.google.com/abc", "",
			"Bring portfolio", "scheduled", "evt-1", "iv-1", testNow, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	iv, err := f.scheduler.Reschedule(context.Background(), reviewer, "iv-1", RescheduleInput{Date: "2026-03-12", Time: "09:00"})
	require.NoError(t, err)

	assert.NotEqual(t, "iv-1", iv.ID)
	assert.Equal(t, "iv-1", *iv.RescheduledFrom)
	assert.Equal(t, models.InterviewScheduled, iv.Status)
	assert.Equal(t, newWhen, iv.ScheduledDate)
	assert.Equal(t, []string{"evt-1"}, f.calendar.updated)
	assert.Empty(t, f.calendar.created)

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, models.NotificationInterviewRescheduled, ev.Type)
	assert.Equal(t, "Your interview for Intro to Go has been moved to 2026-03-12 at 09:00.", ev.Message)
	assert.Equal(t, iv.ID, *ev.InterviewID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestScheduler_Complete(t *testing.T) {
	f := newSchedulerFixture(t, models.ApplicationApproved)

	f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
		WillReturnRows(interviewRow("iv-1", models.InterviewScheduled, "", nil))
	f.mock.ExpectExec(`UPDATE interviews`).WithArgs("iv-1", "completed", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(`WHERE i.id = \$1`).WithArgs("iv-1").
		WillReturnRows(interviewRow("iv-1", models.InterviewCompleted, "", nil))

	iv, err := f.scheduler.Complete(context.Background(), reviewer, "iv-1")
	require.NoError(t, err)
	assert.Equal(t, models.InterviewCompleted, iv.Status)
	assert.Empty(t, f.notifier.events)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestScheduler_ListForApplication(t *testing.T) {
	f := newSchedulerFixture(t, models.ApplicationApproved)

	f.mock.ExpectQuery(`WHERE i.application_id = \$1\s+ORDER BY i.scheduled_date ASC`).WithArgs("app-1").
		WillReturnRows(interviewRow("iv-1", models.InterviewScheduled, "", nil))

	list, err := f.scheduler.ListForApplication(context.Background(), candidate, "app-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.scheduler.ListForApplication(context.Background(), &auth.Identity{UserID: "cand-2", Role: auth.RoleCandidate}, "app-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
