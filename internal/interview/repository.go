// Package interview schedules interviews for approved applications and
// mirrors them into an external calendar.
package interview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formation-review/internal/common/database"
	"formation-review/internal/models"
)

var (
	ErrNotFound        = errors.New("interview not found")
	ErrStaleTransition = errors.New("interview is no longer scheduled")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectInterview = `
	SELECT i.id, i.application_id, i.scheduled_by, i.scheduled_date, i.duration, i.meeting_type,
	       i.meeting_link, i.location, i.notes, i.status, i.calendar_event_id, i.rescheduled_from,
	       i.created_at, i.updated_at, u.full_name, f.title
	FROM interviews i
	JOIN course_applications a ON a.id = i.application_id
	JOIN users u ON u.id = a.candidate_id
	JOIN formations f ON f.id = a.formation_id`

const insertInterview = `
	INSERT INTO interviews
		(id, application_id, scheduled_by, scheduled_date, duration, meeting_type, meeting_link,
		 location, notes, status, calendar_event_id, rescheduled_from, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insert(ctx context.Context, db execer, iv *models.Interview) error {
	_, err := db.ExecContext(ctx, insertInterview,
		iv.ID, iv.ApplicationID, iv.ScheduledBy, iv.ScheduledDate, iv.Duration, string(iv.MeetingType),
		iv.MeetingLink, iv.Location, iv.Notes, string(iv.Status), iv.CalendarEventID, iv.RescheduledFrom,
		iv.CreatedAt, iv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interview: %w", err)
	}
	return nil
}

// Create inserts a new interview row.
func (r *Repository) Create(ctx context.Context, iv *models.Interview) error {
	return insert(ctx, r.db, iv)
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Interview, error) {
	iv, err := scanInterview(r.db.QueryRowContext(ctx, selectInterview+`
	WHERE i.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) || database.IsInvalidTextRepresentation(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get interview %s: %w", id, err)
	}
	return iv, nil
}

// ListByApplication returns the interviews of one application in date order.
func (r *Repository) ListByApplication(ctx context.Context, applicationID string) ([]models.Interview, error) {
	rows, err := r.db.QueryContext(ctx, selectInterview+`
	WHERE i.application_id = $1
	ORDER BY i.scheduled_date ASC`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()

	out := []models.Interview{}
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interview: %w", err)
		}
		out = append(out, *iv)
	}
	return out, rows.Err()
}

func (r *Repository) Cancel(ctx context.Context, id string, at time.Time) error {
	return r.leaveScheduled(ctx, r.db, id, models.InterviewCancelled, at)
}

func (r *Repository) Complete(ctx context.Context, id string, at time.Time) error {
	return r.leaveScheduled(ctx, r.db, id, models.InterviewCompleted, at)
}

// Reschedule retires the scheduled interview oldID and inserts its successor
// in one transaction.
func (r *Repository) Reschedule(ctx context.Context, oldID string, next *models.Interview) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.leaveScheduled(ctx, tx, oldID, models.InterviewRescheduled, next.CreatedAt); err != nil {
			return err
		}
		return insert(ctx, tx, next)
	})
}

func (r *Repository) leaveScheduled(ctx context.Context, db execer, id string, to models.InterviewStatus, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE interviews
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'scheduled'`,
		id, string(to), at,
	)
	if err != nil {
		return fmt.Errorf("update interview status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

// SetCalendarEvent stores the provider event id. An empty link keeps the
// current meeting link.
func (r *Repository) SetCalendarEvent(ctx context.Context, id, eventID, meetingLink string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE interviews
		SET calendar_event_id = $2, meeting_link = COALESCE(NULLIF($3, ''), meeting_link), updated_at = $4
		WHERE id = $1`,
		id, eventID, meetingLink, at,
	)
	if err != nil {
		return fmt.Errorf("set calendar event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInterview(row rowScanner) (*models.Interview, error) {
	var (
		iv              models.Interview
		meetingType     string
		status          string
		rescheduledFrom sql.NullString
		candidateName   sql.NullString
	)
	err := row.Scan(
		&iv.ID, &iv.ApplicationID, &iv.ScheduledBy, &iv.ScheduledDate, &iv.Duration, &meetingType,
		&iv.MeetingLink, &iv.Location, &iv.Notes, &status, &iv.CalendarEventID, &rescheduledFrom,
		&iv.CreatedAt, &iv.UpdatedAt, &candidateName, &iv.FormationTitle,
	)
	if err != nil {
		return nil, err
	}
	iv.MeetingType = models.MeetingType(meetingType)
	iv.Status = models.InterviewStatus(status)
	if rescheduledFrom.Valid {
		iv.RescheduledFrom = &rescheduledFrom.String
	}
	iv.CandidateName = candidateName.String
	return &iv, nil
}
