// Package application holds course application records, their review
// lifecycle, the search index and the ranked export.
package application

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"formation-review/internal/common/database"
	"formation-review/internal/models"
)

var (
	ErrNotFound        = errors.New("application not found")
	ErrDuplicate       = errors.New("application already exists")
	ErrStaleTransition = errors.New("application is no longer pending")
	ErrFormationFull   = errors.New("formation is full")
	ErrFormationAbsent = errors.New("formation not found")
	// ErrMalformedID is returned when a referenced id is not a UUID.
	ErrMalformedID = errors.New("malformed id")
)

// Repository is the PostgreSQL store of course applications and the
// formation roster they feed.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectApplication = `
	SELECT a.id, a.candidate_id, a.formation_id, a.quiz_attempt_id, a.quiz_score, a.status,
	       a.message, a.cv_path, a.extracted_text, a.score, a.summary, a.analysis, a.resume,
	       a.reviewed_by, a.reviewed_at, a.review_notes, a.created_at, a.updated_at,
	       u.full_name, u.email, f.title, f.instructor_id
	FROM course_applications a
	JOIN users u ON u.id = a.candidate_id
	JOIN formations f ON f.id = a.formation_id`

// Create inserts a pending application. ID, CreatedAt and UpdatedAt must be set.
func (r *Repository) Create(ctx context.Context, a *models.Application) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_applications
			(id, candidate_id, formation_id, quiz_attempt_id, quiz_score, status, message, cv_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.CandidateID, a.FormationID, a.QuizAttemptID, a.QuizScore,
		string(models.ApplicationPending), a.Message, a.CVPath, a.CreatedAt, a.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if database.IsInvalidTextRepresentation(err) {
		return ErrMalformedID
	}
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Application, error) {
	row := r.db.QueryRowContext(ctx, selectApplication+`
	WHERE a.id = $1`, id)

	a, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) || database.IsInvalidTextRepresentation(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", id, err)
	}
	return a, nil
}

func (r *Repository) GetFormation(ctx context.Context, id string) (*models.Formation, error) {
	var f models.Formation
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, instructor_id, max_participants, current_participants
		FROM formations
		WHERE id = $1`, id).Scan(&f.ID, &f.Title, &f.Description, &f.InstructorID, &f.MaxParticipants, &f.CurrentParticipants)
	if errors.Is(err, sql.ErrNoRows) || database.IsInvalidTextRepresentation(err) {
		return nil, ErrFormationAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("get formation %s: %w", id, err)
	}
	return &f, nil
}

// ListFilter narrows application listings. Empty fields do not filter.
type ListFilter struct {
	CandidateID  string
	InstructorID string
	FormationID  string
	Status       models.ApplicationStatus
	Limit        int
	Offset       int
}

// List returns matching applications, newest first. A zero Limit returns
// every match.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Application, error) {
	query := selectApplication + `
	WHERE TRUE`
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}

	if f.CandidateID != "" {
		add("a.candidate_id", f.CandidateID)
	}
	if f.InstructorID != "" {
		add("f.instructor_id", f.InstructorID)
	}
	if f.FormationID != "" {
		add("a.formation_id", f.FormationID)
	}
	if f.Status != "" {
		add("a.status", string(f.Status))
	}

	query += `
	ORDER BY a.created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(`
	LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	out := []models.Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Review is the reviewer's decision applied by Approve and Reject.
type Review struct {
	ApplicationID string
	ReviewerID    string
	Notes         string
	At            time.Time
}

// Approve moves a pending application to approved, adds the candidate to the
// formation roster and bumps the participant counter in one transaction.
// A candidate already on the roster is not counted twice.
func (r *Repository) Approve(ctx context.Context, rv Review) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var candidateID, formationID string
		err := tx.QueryRowContext(ctx, `
			UPDATE course_applications
			SET status = 'approved', reviewed_by = $2, reviewed_at = $3, review_notes = $4, updated_at = $3
			WHERE id = $1 AND status = 'pending'
			RETURNING candidate_id, formation_id`,
			rv.ApplicationID, rv.ReviewerID, rv.At, rv.Notes,
		).Scan(&candidateID, &formationID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleTransition
		}
		if err != nil {
			return fmt.Errorf("approve application: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO formation_participants (formation_id, user_id, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			formationID, candidateID, rv.At,
		)
		if err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		added, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if added == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE formations
			SET current_participants = current_participants + 1
			WHERE id = $1 AND (max_participants = 0 OR current_participants < max_participants)`,
			formationID,
		)
		if err != nil {
			return fmt.Errorf("increment participants: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrFormationFull
		}
		return nil
	})
}

// Reject moves a pending application to rejected.
func (r *Repository) Reject(ctx context.Context, rv Review) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE course_applications
		SET status = 'rejected', reviewed_by = $2, reviewed_at = $3, review_notes = $4, updated_at = $3
		WHERE id = $1 AND status = 'pending'`,
		rv.ApplicationID, rv.ReviewerID, rv.At, rv.Notes,
	)
	return staleIfUnchanged(res, err, "reject application")
}

// Withdraw moves the candidate's own pending application to withdrawn.
func (r *Repository) Withdraw(ctx context.Context, id, candidateID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE course_applications
		SET status = 'withdrawn', updated_at = $3
		WHERE id = $1 AND candidate_id = $2 AND status = 'pending'`,
		id, candidateID, at,
	)
	return staleIfUnchanged(res, err, "withdraw application")
}

func staleIfUnchanged(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
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

// Annotation is the output of CV scoring stored on the application.
type Annotation struct {
	ExtractedText string
	Score         int
	Summary       string
	Analysis      models.CVAnalysis
	Resume        string
	At            time.Time
}

// SaveAnnotation stores scoring output without touching the status.
func (r *Repository) SaveAnnotation(ctx context.Context, id string, an Annotation) error {
	analysis, err := json.Marshal(an.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE course_applications
		SET extracted_text = $2, score = $3, summary = $4, analysis = $5, resume = $6, updated_at = $7
		WHERE id = $1`,
		id, an.ExtractedText, models.ClampScore(an.Score), an.Summary, analysis, an.Resume, an.At,
	)
	if err != nil {
		return fmt.Errorf("save annotation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AuditEntry is one row of the lifecycle audit trail.
type AuditEntry struct {
	ID         string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]interface{}
	At         time.Time
}

func (r *Repository) RecordAudit(ctx context.Context, e AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, details, e.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		a             models.Application
		status        string
		quizAttemptID sql.NullString
		quizScore     sql.NullInt64
		extractedText sql.NullString
		score         sql.NullInt64
		summary       sql.NullString
		analysis      []byte
		resume        sql.NullString
		reviewedBy    sql.NullString
		reviewedAt    sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.CandidateID, &a.FormationID, &quizAttemptID, &quizScore, &status,
		&a.Message, &a.CVPath, &extractedText, &score, &summary, &analysis, &resume,
		&reviewedBy, &reviewedAt, &a.ReviewNotes, &a.CreatedAt, &a.UpdatedAt,
		&a.CandidateName, &a.CandidateEmail, &a.FormationTitle, &a.InstructorID,
	); err != nil {
		return nil, err
	}

	a.Status = models.ApplicationStatus(status)
	a.HasCV = a.CVPath != ""
	a.QuizAttemptID = nullString(quizAttemptID)
	a.ExtractedText = nullString(extractedText)
	a.Summary = nullString(summary)
	a.Resume = nullString(resume)
	a.ReviewedBy = nullString(reviewedBy)
	if quizScore.Valid {
		v := int(quizScore.Int64)
		a.QuizScore = &v
	}
	if score.Valid {
		v := int(score.Int64)
		a.Score = &v
	}
	if len(analysis) > 0 {
		a.Analysis = json.RawMessage(analysis)
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	return &a, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
