package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"formation-review/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var applicationColumns = []string{
	"id", "candidate_id", "formation_id", "quiz_attempt_id", "quiz_score", "status",
	"message", "cv_path", "extracted_text", "score", "summary", "analysis", "resume",
	"reviewed_by", "reviewed_at", "review_notes", "created_at", "updated_at",
	"full_name", "email", "title", "instructor_id",
}

var testCreatedAt = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func applicationRow(id string, status models.ApplicationStatus) *sqlmock.Rows {
	var reviewedBy, reviewedAt interface{}
	if status == models.ApplicationApproved || status == models.ApplicationRejected {
		reviewedBy = "rec-1"
		reviewedAt = testCreatedAt.Add(time.Hour)
	}
	return sqlmock.NewRows(applicationColumns).AddRow(
		id, "cand-1", "form-1", nil, nil, string(status),
		"I would love to join", "/var/cv/x.pdf", nil, nil, nil, nil, nil,
		reviewedBy, reviewedAt, "", testCreatedAt, testCreatedAt,
		"Amina Diallo", "amina@example.com", "Intro to Go", "rec-1",
	)
}

func TestRepository_Create_DuplicateIsSentinel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO course_applications`).
		WillReturnError(&pq.Error{Code: "23505"})

	err = NewRepository(db).Create(context.Background(), &models.Application{
		ID: "app-1", CandidateID: "cand-1", FormationID: "form-1",
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRepository_Get_ScansJoinsAndNulls(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE a.id = \$1`).WithArgs("app-1").
		WillReturnRows(applicationRow("app-1", models.ApplicationPending))

	app, err := NewRepository(db).Get(context.Background(), "app-1")
	require.NoError(t, err)

	assert.Equal(t, models.ApplicationPending, app.Status)
	assert.Equal(t, "Intro to Go", app.FormationTitle)
	assert.Equal(t, "rec-1", app.InstructorID)
	assert.True(t, app.HasCV)
	assert.Nil(t, app.Score)
	assert.Nil(t, app.ReviewedBy)
	assert.Nil(t, app.ReviewedAt)
}

func TestRepository_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE a.id = \$1`).WillReturnRows(sqlmock.NewRows(applicationColumns))

	_, err = NewRepository(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_MalformedIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectQuery(`WHERE a.id = \$1`).WithArgs("abc").WillReturnError(&pq.Error{Code: "22P02"})
	mock.ExpectQuery(`FROM formations`).WithArgs("abc").WillReturnError(&pq.Error{Code: "22P02"})
	mock.ExpectExec(`INSERT INTO course_applications`).WillReturnError(&pq.Error{Code: "22P02"})

	_, err = repo.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetFormation(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrFormationAbsent)

	err = repo.Create(context.Background(), &models.Application{ID: "app-1", CandidateID: "cand-1", FormationID: "form-1"})
	assert.ErrorIs(t, err, ErrMalformedID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Approve(t *testing.T) {
	at := testCreatedAt.Add(2 * time.Hour)
	review := Review{ApplicationID: "app-1", ReviewerID: "rec-1", Notes: "solid", At: at}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "enrolls and counts the candidate",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`UPDATE course_applications\s+SET status = 'approved'`).
					WithArgs("app-1", "rec-1", at, "solid").
					WillReturnRows(sqlmock.NewRows([]string{"candidate_id", "formation_id"}).AddRow("cand-1", "form-1"))
				mock.ExpectExec(`INSERT INTO formation_participants`).
					WithArgs("form-1", "cand-1", at).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE formations\s+SET current_participants = current_participants \+ 1`).
					WithArgs("form-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "existing participant is not counted twice",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`UPDATE course_applications`).
					WillReturnRows(sqlmock.NewRows([]string{"candidate_id", "formation_id"}).AddRow("cand-1", "form-1"))
				mock.ExpectExec(`INSERT INTO formation_participants`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
		},
		{
			name: "lost race rolls back",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`UPDATE course_applications`).
					WillReturnRows(sqlmock.NewRows([]string{"candidate_id", "formation_id"}))
				mock.ExpectRollback()
			},
			wantErr: ErrStaleTransition,
		},
		{
			name: "full formation rolls back the status change",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`UPDATE course_applications`).
					WillReturnRows(sqlmock.NewRows([]string{"candidate_id", "formation_id"}).AddRow("cand-1", "form-1"))
				mock.ExpectExec(`INSERT INTO formation_participants`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE formations`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: ErrFormationFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setup(mock)
			err = NewRepository(db).Approve(context.Background(), review)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_RejectAndWithdraw_AreConditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	at := testCreatedAt

	mock.ExpectExec(`UPDATE course_applications\s+SET status = 'rejected'.*WHERE id = \$1 AND status = 'pending'`).
		WithArgs("app-1", "rec-1", at, "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET status = 'withdrawn'.*WHERE id = \$1 AND candidate_id = \$2 AND status = 'pending'`).
		WithArgs("app-2", "cand-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'withdrawn'`).
		WillReturnError(errors.New("connection reset"))

	assert.ErrorIs(t, repo.Reject(context.Background(), Review{ApplicationID: "app-1", ReviewerID: "rec-1", At: at}), ErrStaleTransition)
	assert.NoError(t, repo.Withdraw(context.Background(), "app-2", "cand-1", at))

	err = repo.Withdraw(context.Background(), "app-3", "cand-1", at)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStaleTransition)
}

func TestRepository_SaveAnnotation_ClampsScore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE course_applications\s+SET extracted_text`).
		WithArgs("app-1", "cv text", 100, "strong", sqlmock.AnyArg(), "resume", testCreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewRepository(db).SaveAnnotation(context.Background(), "app-1", Annotation{
		ExtractedText: "cv text",
		Score:         140,
		Summary:       "strong",
		Analysis:      models.CVAnalysis{Strengths: []string{"Go"}},
		Resume:        "resume",
		At:            testCreatedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List_BuildsFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`AND f.instructor_id = \$1 AND a.status = \$2\s+ORDER BY a.created_at DESC\s+LIMIT \$3 OFFSET \$4`).
		WithArgs("rec-1", "pending", 20, 0).
		WillReturnRows(applicationRow("app-1", models.ApplicationPending))

	list, err := NewRepository(db).List(context.Background(), ListFilter{
		InstructorID: "rec-1",
		Status:       models.ApplicationPending,
		Limit:        20,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "app-1", list[0].ID)
}

func errDuplicateKey() error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
}
