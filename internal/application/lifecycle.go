package application

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

// Notifier creates one notification per recipient event.
type Notifier interface {
	Emit(ctx context.Context, ev notification.Event) (*models.Notification, error)
}

// Indexer mirrors applications into the search index.
type Indexer interface {
	Index(ctx context.Context, a *models.Application) error
}

// Lifecycle is the review state machine: pending moves to exactly one of
// approved, rejected or withdrawn. Guards fail before any mutation and the
// conditional updates in Repository settle races between reviewers.
type Lifecycle struct {
	repo     *Repository
	notifier Notifier
	index    Indexer
	logger   logger.Logger
	now      func() time.Time
}

func NewLifecycle(repo *Repository, notifier Notifier, index Indexer, log logger.Logger) *Lifecycle {
	return &Lifecycle{
		repo:     repo,
		notifier: notifier,
		index:    index,
		logger:   log.WithFields(map[string]interface{}{"component": "application-lifecycle"}),
		now:      time.Now,
	}
}

type SubmitInput struct {
	FormationID   string
	Message       string
	QuizAttemptID *string
	QuizScore     *int
	CVPath        string
}

func (l *Lifecycle) Submit(ctx context.Context, actor *auth.Identity, in SubmitInput) (app *models.Application, err error) {
	defer func() { observe("submit", err) }()

	if !CanSubmit(actor) {
		return nil, apperrors.NewPermissionDeniedError("only candidates can apply to a formation")
	}
	in.FormationID = strings.TrimSpace(in.FormationID)
	if in.FormationID == "" {
		return nil, apperrors.NewValidationError("formation_id is required", "")
	}
	if in.QuizScore != nil && (*in.QuizScore < 0 || *in.QuizScore > 100) {
		return nil, apperrors.NewValidationError("quiz_score must be between 0 and 100", "")
	}

	formation, err := l.repo.GetFormation(ctx, in.FormationID)
	if errors.Is(err, ErrFormationAbsent) {
		return nil, apperrors.NewNotFoundError("formation", in.FormationID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get formation", err)
	}

	now := l.now().UTC()
	record := &models.Application{
		ID:            uuid.New().String(),
		CandidateID:   actor.UserID,
		FormationID:   formation.ID,
		QuizAttemptID: in.QuizAttemptID,
		QuizScore:     in.QuizScore,
		Status:        models.ApplicationPending,
		Message:       in.Message,
		CVPath:        in.CVPath,
		HasCV:         in.CVPath != "",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.repo.Create(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperrors.NewDuplicateApplicationError(actor.UserID, formation.ID)
		}
		if errors.Is(err, ErrMalformedID) {
			return nil, apperrors.NewValidationError("quiz_attempt_id must be a UUID", "")
		}
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}

	app = l.reload(ctx, record)
	if app.FormationTitle == "" {
		app.FormationTitle = formation.Title
		app.InstructorID = formation.InstructorID
	}
	if app.CandidateName == "" {
		app.CandidateName = actor.Name
	}

	l.notify(ctx, notification.Event{
		RecipientID:    app.InstructorID,
		Type:           models.NotificationApplicationSubmitted,
		Title:          "New Application Received",
		Message:        fmt.Sprintf("%s has applied for %s", candidateLabel(app), app.FormationTitle),
		ApplicationID:  &app.ID,
		FormationTitle: app.FormationTitle,
	})
	l.afterTransition(ctx, actor, "application.submitted", app, nil)
	return app, nil
}

// Approve accepts a pending application and enrolls the candidate.
func (l *Lifecycle) Approve(ctx context.Context, actor *auth.Identity, id, notes string) (app *models.Application, err error) {
	defer func() { observe("approve", err) }()

	current, err := l.AuthorizeReview(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ApplicationPending {
		return nil, apperrors.NewInvalidTransitionError("application", string(current.Status), string(models.ApplicationApproved))
	}

	err = l.repo.Approve(ctx, Review{ApplicationID: id, ReviewerID: actor.UserID, Notes: notes, At: l.now().UTC()})
	switch {
	case errors.Is(err, ErrStaleTransition):
		return nil, l.staleTransition(ctx, id, models.ApplicationApproved)
	case errors.Is(err, ErrFormationFull):
		return nil, apperrors.NewFormationFullError(current.FormationID)
	case err != nil:
		return nil, apperrors.NewQueryExecutionFailedError("approve application", err)
	}

	app = l.reload(ctx, current)
	l.notify(ctx, notification.Event{
		RecipientID:    app.CandidateID,
		Type:           models.NotificationApplicationApproved,
		Title:          "Application Approved!",
		Message:        fmt.Sprintf("Congratulations! Your application for %s has been approved.", app.FormationTitle),
		ApplicationID:  &app.ID,
		FormationTitle: app.FormationTitle,
	})
	l.afterTransition(ctx, actor, "application.approved", app, map[string]interface{}{"notes": notes})
	return app, nil
}

func (l *Lifecycle) Reject(ctx context.Context, actor *auth.Identity, id, notes string) (app *models.Application, err error) {
	defer func() { observe("reject", err) }()

	current, err := l.AuthorizeReview(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ApplicationPending {
		return nil, apperrors.NewInvalidTransitionError("application", string(current.Status), string(models.ApplicationRejected))
	}

	err = l.repo.Reject(ctx, Review{ApplicationID: id, ReviewerID: actor.UserID, Notes: notes, At: l.now().UTC()})
	if errors.Is(err, ErrStaleTransition) {
		return nil, l.staleTransition(ctx, id, models.ApplicationRejected)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("reject application", err)
	}

	app = l.reload(ctx, current)
	l.notify(ctx, notification.Event{
		RecipientID:    app.CandidateID,
		Type:           models.NotificationApplicationRejected,
		Title:          "Application Update",
		Message:        fmt.Sprintf("Your application for %s has been reviewed.", app.FormationTitle),
		ApplicationID:  &app.ID,
		FormationTitle: app.FormationTitle,
	})
	l.afterTransition(ctx, actor, "application.rejected", app, map[string]interface{}{"notes": notes})
	return app, nil
}

// Withdraw lets a candidate retract their own pending application. The
// formation instructor is notified.
func (l *Lifecycle) Withdraw(ctx context.Context, actor *auth.Identity, id string) (app *models.Application, err error) {
	defer func() { observe("withdraw", err) }()

	current, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanWithdraw(actor, current) {
		return nil, apperrors.NewPermissionDeniedError("only the applicant can withdraw an application")
	}
	if current.Status != models.ApplicationPending {
		return nil, apperrors.NewInvalidTransitionError("application", string(current.Status), string(models.ApplicationWithdrawn))
	}

	err = l.repo.Withdraw(ctx, id, actor.UserID, l.now().UTC())
	if errors.Is(err, ErrStaleTransition) {
		return nil, l.staleTransition(ctx, id, models.ApplicationWithdrawn)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("withdraw application", err)
	}

	app = l.reload(ctx, current)
	l.notify(ctx, notification.Event{
		RecipientID:    app.InstructorID,
		Type:           models.NotificationApplicationWithdrawn,
		Title:          "Application Withdrawn",
		Message:        fmt.Sprintf("%s has withdrawn their application for %s", candidateLabel(app), app.FormationTitle),
		ApplicationID:  &app.ID,
		FormationTitle: app.FormationTitle,
	})
	l.afterTransition(ctx, actor, "application.withdrawn", app, nil)
	return app, nil
}

// Get returns an application visible to the caller.
func (l *Lifecycle) Get(ctx context.Context, actor *auth.Identity, id string) (*models.Application, error) {
	app, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, app) {
		return nil, apperrors.NewPermissionDeniedError("application belongs to another candidate or formation")
	}
	return app, nil
}

// AuthorizeReview loads an application and checks the caller may review it.
func (l *Lifecycle) AuthorizeReview(ctx context.Context, actor *auth.Identity, id string) (*models.Application, error) {
	app, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanReview(actor, app.InstructorID) {
		return nil, apperrors.NewPermissionDeniedError("reviewer does not instruct this formation")
	}
	return app, nil
}

// ListMine pages the caller's own applications.
func (l *Lifecycle) ListMine(ctx context.Context, actor *auth.Identity, limit, offset int) ([]models.Application, error) {
	if actor == nil {
		return nil, apperrors.NewAuthenticationError("missing identity")
	}
	limit, offset = notification.NormalizePage(limit, offset)
	list, err := l.repo.List(ctx, ListFilter{CandidateID: actor.UserID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list applications", err)
	}
	return list, nil
}

// ListPending pages the review queue: every formation for admins, the
// formations they instruct for recruiters.
func (l *Lifecycle) ListPending(ctx context.Context, actor *auth.Identity, limit, offset int) ([]models.Application, error) {
	if !CanListPending(actor) {
		return nil, apperrors.NewPermissionDeniedError("only reviewers can list pending applications")
	}
	f := ListFilter{Status: models.ApplicationPending}
	f.Limit, f.Offset = notification.NormalizePage(limit, offset)
	if actor.Role == auth.RoleRecruiter {
		f.InstructorID = actor.UserID
	}

	list, err := l.repo.List(ctx, f)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list pending applications", err)
	}
	return list, nil
}

// ListForFormation returns every application of a formation the caller reviews.
func (l *Lifecycle) ListForFormation(ctx context.Context, actor *auth.Identity, formationID string) (*models.Formation, []models.Application, error) {
	formation, err := l.repo.GetFormation(ctx, formationID)
	if errors.Is(err, ErrFormationAbsent) {
		return nil, nil, apperrors.NewNotFoundError("formation", formationID)
	}
	if err != nil {
		return nil, nil, apperrors.NewQueryExecutionFailedError("get formation", err)
	}
	if !CanReview(actor, formation.InstructorID) {
		return nil, nil, apperrors.NewPermissionDeniedError("reviewer does not instruct this formation")
	}

	list, err := l.repo.List(ctx, ListFilter{FormationID: formationID})
	if err != nil {
		return nil, nil, apperrors.NewQueryExecutionFailedError("list formation applications", err)
	}
	return formation, list, nil
}

func (l *Lifecycle) load(ctx context.Context, id string) (*models.Application, error) {
	app, err := l.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get application", err)
	}
	return app, nil
}

// reload re-reads a committed record. The mutation already succeeded, so a
// failed read falls back to the copy in hand.
func (l *Lifecycle) reload(ctx context.Context, fallback *models.Application) *models.Application {
	app, err := l.repo.Get(ctx, fallback.ID)
	if err != nil {
		l.logger.Warn("reload after commit failed", map[string]interface{}{
			"applicationId": fallback.ID,
			"error":         err,
		})
		return fallback
	}
	return app
}

// staleTransition reports the status the winning transition left behind.
func (l *Lifecycle) staleTransition(ctx context.Context, id string, to models.ApplicationStatus) error {
	from := string(models.ApplicationPending)
	if app, err := l.repo.Get(ctx, id); err == nil {
		from = string(app.Status)
	}
	return apperrors.NewInvalidTransitionError("application", from, string(to))
}

func (l *Lifecycle) notify(ctx context.Context, ev notification.Event) {
	if l.notifier == nil {
		return
	}
	if _, err := l.notifier.Emit(ctx, ev); err != nil {
		l.logger.Error("notification emission failed", map[string]interface{}{
			"type":        string(ev.Type),
			"recipientId": ev.RecipientID,
			"error":       err,
		})
	}
}

// afterTransition writes the audit row and refreshes the search document.
// Both are best-effort.
func (l *Lifecycle) afterTransition(ctx context.Context, actor *auth.Identity, action string, app *models.Application, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["status"] = string(app.Status)

	err := l.repo.RecordAudit(ctx, AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    actor.UserID,
		Action:     action,
		EntityType: "course_application",
		EntityID:   app.ID,
		Details:    details,
		At:         l.now().UTC(),
	})
	if err != nil {
		l.logger.Warn("audit log write failed", map[string]interface{}{
			"action":        action,
			"applicationId": app.ID,
			"error":         err,
		})
	}

	if l.index == nil {
		return
	}
	if err := l.index.Index(ctx, app); err != nil {
		l.logger.Warn("search indexing failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
	}
}

func candidateLabel(app *models.Application) string {
	if app.CandidateName != "" {
		return app.CandidateName
	}
	if app.CandidateEmail != "" {
		return app.CandidateEmail
	}
	return "A candidate"
}

func observe(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.Normalize(err).Code)
	}
	metrics.ReviewTransitions.WithLabelValues(transition, outcome).Inc()
}
