package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"formation-review/internal/common/auth"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/common/metrics"
	"formation-review/internal/models"
	"formation-review/internal/notification"

	"github.com/google/uuid"
)

// dateLayout renders interview times in notification messages.
const dateLayout = "2006-01-02 at 15:04"

const maxDuration = 8 * 60

// Applications resolves the application an interview belongs to and checks
// the caller's rights on it.
type Applications interface {
	Get(ctx context.Context, actor *auth.Identity, id string) (*models.Application, error)
	AuthorizeReview(ctx context.Context, actor *auth.Identity, id string) (*models.Application, error)
}

type Notifier interface {
	Emit(ctx context.Context, ev notification.Event) (*models.Notification, error)
}

type SchedulerConfig struct {
	// Location interprets the date and time of schedule requests.
	Location        *time.Location
	CalendarTimeout time.Duration
}

// Scheduler owns the interview lifecycle: scheduled moves to completed,
// cancelled or rescheduled, and a reschedule spawns a new scheduled row.
type Scheduler struct {
	repo     *Repository
	apps     Applications
	notifier Notifier
	calendar CalendarProvider
	cfg      SchedulerConfig
	logger   logger.Logger
	now      func() time.Time
}

// NewScheduler builds a scheduler. calendar may be nil, in which case
// interviews are stored without a calendar event.
func NewScheduler(repo *Repository, apps Applications, notifier Notifier, calendar CalendarProvider, cfg SchedulerConfig, log logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CalendarTimeout <= 0 {
		cfg.CalendarTimeout = 10 * time.Second
	}
	return &Scheduler{
		repo:     repo,
		apps:     apps,
		notifier: notifier,
		calendar: calendar,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "interview-scheduler"}),
		now:      time.Now,
	}
}

type ScheduleInput struct {
	ApplicationID string
	Date          string // YYYY-MM-DD
	Time          string // HH:MM
	Duration      int    // minutes, defaults to 60
	MeetingType   string
	Location      string
	Notes         string
}

type RescheduleInput struct {
	Date     string
	Time     string
	Duration int // zero keeps the current duration
}

func (s *Scheduler) parseWhen(date, clock string) (time.Time, error) {
	when, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(date)+" "+strings.TrimSpace(clock), s.cfg.Location)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("Invalid date or time", "expected date YYYY-MM-DD and time HH:MM")
	}
	return when, nil
}

func validDuration(d int) bool {
	return d > 0 && d <= maxDuration
}

// Schedule creates an interview for an approved application.
func (s *Scheduler) Schedule(ctx context.Context, actor *auth.Identity, in ScheduleInput) (iv *models.Interview, err error) {
	defer func() { observe("interview_schedule", err) }()

	if strings.TrimSpace(in.ApplicationID) == "" || strings.TrimSpace(in.Date) == "" || strings.TrimSpace(in.Time) == "" {
		return nil, apperrors.NewValidationError("Missing required fields: application_id, date, time", "")
	}
	when, err := s.parseWhen(in.Date, in.Time)
	if err != nil {
		return nil, err
	}
	if in.Duration == 0 {
		in.Duration = models.DefaultInterviewDuration
	}
	if !validDuration(in.Duration) {
		return nil, apperrors.NewValidationError("duration must be between 1 and 480 minutes", "")
	}
	meetingType := models.MeetingOnline
	if in.MeetingType != "" {
		meetingType = models.MeetingType(in.MeetingType)
	}
	if !meetingType.Valid() {
		return nil, apperrors.NewValidationError("Invalid meeting type", in.MeetingType)
	}

	app, err := s.apps.AuthorizeReview(ctx, actor, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationApproved {
		return nil, apperrors.NewPreconditionFailedError("Application must be approved before scheduling interview", string(app.Status))
	}

	now := s.now().UTC()
	iv = &models.Interview{
		ID:             uuid.New().String(),
		ApplicationID:  app.ID,
		ScheduledBy:    actor.UserID,
		ScheduledDate:  when.UTC(),
		Duration:       in.Duration,
		MeetingType:    meetingType,
		Location:       in.Location,
		Notes:          in.Notes,
		Status:         models.InterviewScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
		CandidateName:  app.CandidateName,
		FormationTitle: app.FormationTitle,
	}
	if err := s.repo.Create(ctx, iv); err != nil {
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}

	s.attachCalendarEvent(ctx, iv, app, actor)
	s.notify(ctx, app, iv, models.NotificationInterviewScheduled, "Interview Scheduled!",
		fmt.Sprintf("An interview has been scheduled for %s on %s.", app.FormationTitle, s.format(iv.ScheduledDate)))
	return iv, nil
}

// Cancel moves a scheduled interview to cancelled.
func (s *Scheduler) Cancel(ctx context.Context, actor *auth.Identity, id string) (iv *models.Interview, err error) {
	defer func() { observe("interview_cancel", err) }()

	current, app, err := s.authorize(ctx, actor, id, models.InterviewCancelled)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Cancel(ctx, id, s.now().UTC()); err != nil {
		return nil, s.transitionFailed(ctx, id, models.InterviewCancelled, err)
	}

	if current.CalendarEventID != "" && s.calendar != nil {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CalendarTimeout)
		if err := s.calendar.CancelEvent(cctx, current.CalendarEventID); err != nil {
			s.logger.Warn("calendar cancel failed", map[string]interface{}{"interviewId": id, "error": err})
		}
		cancel()
	}

	iv = s.reload(ctx, current)
	s.notify(ctx, app, iv, models.NotificationInterviewCancelled, "Interview Cancelled",
		fmt.Sprintf("Your interview for %s on %s has been cancelled.", app.FormationTitle, s.format(iv.ScheduledDate)))
	return iv, nil
}

// Reschedule retires a scheduled interview and returns its scheduled successor.
func (s *Scheduler) Reschedule(ctx context.Context, actor *auth.Identity, id string, in RescheduleInput) (iv *models.Interview, err error) {
	defer func() { observe("interview_reschedule", err) }()

	if strings.TrimSpace(in.Date) == "" || strings.TrimSpace(in.Time) == "" {
		return nil, apperrors.NewValidationError("Missing required fields: date, time", "")
	}
	when, err := s.parseWhen(in.Date, in.Time)
	if err != nil {
		return nil, err
	}
	if in.Duration != 0 && !validDuration(in.Duration) {
		return nil, apperrors.NewValidationError("duration must be between 1 and 480 minutes", "")
	}

	current, app, err := s.authorize(ctx, actor, id, models.InterviewRescheduled)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next := *current
	next.ID = uuid.New().String()
	next.ScheduledBy = actor.UserID
	next.ScheduledDate = when.UTC()
	next.Status = models.InterviewScheduled
	next.RescheduledFrom = &current.ID
	next.CreatedAt = now
	next.UpdatedAt = now
	if in.Duration != 0 {
		next.Duration = in.Duration
	}

	if err := s.repo.Reschedule(ctx, id, &next); err != nil {
		return nil, s.transitionFailed(ctx, id, models.InterviewRescheduled, err)
	}

	if next.CalendarEventID != "" && s.calendar != nil {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CalendarTimeout)
		if err := s.calendar.UpdateEvent(cctx, next.CalendarEventID, next.ScheduledDate, next.End()); err != nil {
			s.logger.Warn("calendar update failed", map[string]interface{}{"interviewId": next.ID, "error": err})
		}
		cancel()
	} else {
		s.attachCalendarEvent(ctx, &next, app, actor)
	}

	s.notify(ctx, app, &next, models.NotificationInterviewRescheduled, "Interview Rescheduled",
		fmt.Sprintf("Your interview for %s has been moved to %s.", app.FormationTitle, s.format(next.ScheduledDate)))
	return &next, nil
}

// Complete marks a scheduled interview as held. Nobody is notified.
func (s *Scheduler) Complete(ctx context.Context, actor *auth.Identity, id string) (iv *models.Interview, err error) {
	defer func() { observe("interview_complete", err) }()

	current, _, err := s.authorize(ctx, actor, id, models.InterviewCompleted)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Complete(ctx, id, s.now().UTC()); err != nil {
		return nil, s.transitionFailed(ctx, id, models.InterviewCompleted, err)
	}
	return s.reload(ctx, current), nil
}

// ListForApplication returns the interviews of an application the caller may view.
func (s *Scheduler) ListForApplication(ctx context.Context, actor *auth.Identity, applicationID string) ([]models.Interview, error) {
	if _, err := s.apps.Get(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list interviews", err)
	}
	return list, nil
}

// authorize loads the interview, checks the caller reviews its application
// and that it is still scheduled.
func (s *Scheduler) authorize(ctx context.Context, actor *auth.Identity, id string, to models.InterviewStatus) (*models.Interview, *models.Application, error) {
	current, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, apperrors.NewNotFoundError("interview", id)
	}
	if err != nil {
		return nil, nil, apperrors.NewQueryExecutionFailedError("get interview", err)
	}

	app, err := s.apps.AuthorizeReview(ctx, actor, current.ApplicationID)
	if err != nil {
		return nil, nil, err
	}
	if current.Status != models.InterviewScheduled {
		return nil, nil, apperrors.NewInvalidTransitionError("interview", string(current.Status), string(to))
	}
	return current, app, nil
}

func (s *Scheduler) transitionFailed(ctx context.Context, id string, to models.InterviewStatus, err error) error {
	if !errors.Is(err, ErrStaleTransition) {
		return apperrors.NewQueryExecutionFailedError("update interview", err)
	}
	from := string(models.InterviewScheduled)
	if iv, getErr := s.repo.Get(ctx, id); getErr == nil {
		from = string(iv.Status)
	}
	return apperrors.NewInvalidTransitionError("interview", from, string(to))
}

func (s *Scheduler) reload(ctx context.Context, fallback *models.Interview) *models.Interview {
	iv, err := s.repo.Get(ctx, fallback.ID)
	if err != nil {
		s.logger.Warn("reload after commit failed", map[string]interface{}{"interviewId": fallback.ID, "error": err})
		return fallback
	}
	return iv
}

// attachCalendarEvent creates the provider event and stores its id and
// meeting link. Failures leave the interview as it is.
func (s *Scheduler) attachCalendarEvent(ctx context.Context, iv *models.Interview, app *models.Application, actor *auth.Identity) {
	if s.calendar == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CalendarTimeout)
	defer cancel()

	ev, err := s.calendar.CreateEvent(ctx, EventRequest{
		Title:       fmt.Sprintf("Interview: %s - %s", app.FormationTitle, app.CandidateName),
		Description: iv.Notes,
		Start:       iv.ScheduledDate,
		End:         iv.End(),
		Attendees:   []string{app.CandidateEmail, actor.Email},
		Location:    iv.Location,
		Online:      iv.MeetingType == models.MeetingOnline,
	})
	if err != nil {
		s.logger.Warn("calendar event creation failed", map[string]interface{}{"interviewId": iv.ID, "error": err})
		return
	}

	if err := s.repo.SetCalendarEvent(ctx, iv.ID, ev.ID, ev.JoinURL, s.now().UTC()); err != nil {
		s.logger.Warn("storing calendar event failed", map[string]interface{}{"interviewId": iv.ID, "error": err})
		return
	}
	iv.CalendarEventID = ev.ID
	if ev.JoinURL != "" {
		iv.MeetingLink = ev.JoinURL
	}
}

func (s *Scheduler) notify(ctx context.Context, app *models.Application, iv *models.Interview, typ models.NotificationType, title, message string) {
	if s.notifier == nil {
		return
	}
	date := iv.ScheduledDate
	_, err := s.notifier.Emit(ctx, notification.Event{
		RecipientID:    app.CandidateID,
		Type:           typ,
		Title:          title,
		Message:        message,
		ApplicationID:  &app.ID,
		InterviewID:    &iv.ID,
		FormationTitle: app.FormationTitle,
		InterviewDate:  &date,
	})
	if err != nil {
		s.logger.Error("notification emission failed", map[string]interface{}{
			"type":        string(typ),
			"interviewId": iv.ID,
			"error":       err,
		})
	}
}

func (s *Scheduler) format(t time.Time) string {
	return t.In(s.cfg.Location).Format(dateLayout)
}

func observe(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.Normalize(err).Code)
	}
	metrics.ReviewTransitions.WithLabelValues(transition, outcome).Inc()
}

// CalendarHealth reports the provider's health, or nil when no provider is configured.
func (s *Scheduler) CalendarHealth(ctx context.Context) error {
	if s.calendar == nil {
		return nil
	}
	return s.calendar.HealthCheck(ctx)
}
