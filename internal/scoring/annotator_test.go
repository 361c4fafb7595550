package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"formation-review/internal/application"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	apps       map[string]*models.Application
	formations map[string]*models.Formation
	saved      []application.Annotation
	saveErr    error
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.Application, error) {
	app, ok := s.apps[id]
	if !ok {
		return nil, application.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (s *fakeStore) GetFormation(_ context.Context, id string) (*models.Formation, error) {
	f, ok := s.formations[id]
	if !ok {
		return nil, application.ErrFormationAbsent
	}
	return f, nil
}

func (s *fakeStore) SaveAnnotation(_ context.Context, id string, an application.Annotation) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, an)
	score := an.Score
	s.apps[id].Score = &score
	s.apps[id].ExtractedText = &an.ExtractedText
	return nil
}

type fakeExtractor struct {
	text  string
	err   error
	paths []string
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	return f.text, f.err
}

type fakeEvaluator struct {
	result *Result
	err    error
	jobs   []string
}

func (f *fakeEvaluator) Score(_ context.Context, _ string, jobDescription string) (*Result, error) {
	f.jobs = append(f.jobs, jobDescription)
	return f.result, f.err
}

func newStore() *fakeStore {
	return &fakeStore{
		apps: map[string]*models.Application{
			"app-1": {ID: "app-1", FormationID: "form-1", Status: models.ApplicationPending, CVPath: "/cvs/a.pdf"},
			"app-2": {ID: "app-2", FormationID: "form-1", Status: models.ApplicationApproved},
		},
		formations: map[string]*models.Formation{
			"form-1": {ID: "form-1", Title: "Intro to Go", Description: "Concurrency and services"},
		},
	}
}

func TestAnnotator_Annotate(t *testing.T) {
	store := newStore()
	extractor := &fakeExtractor{text: "Amina Diallo, Go developer"}
	evaluator := &fakeEvaluator{result: &Result{Score: 77, Summary: "good", Resume: "Go dev"}}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	a := NewAnnotator(store, extractor, evaluator, logger.NewTestLogger(t))
	a.now = func() time.Time { return at }

	app, err := a.Annotate(context.Background(), "app-1")
	require.NoError(t, err)

	assert.Equal(t, 77, *app.Score)
	assert.Equal(t, models.ApplicationPending, app.Status)
	assert.Equal(t, []string{"/cvs/a.pdf"}, extractor.paths)
	assert.Equal(t, []string{"Title: Intro to Go\nDescription: Concurrency and services"}, evaluator.jobs)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "Amina Diallo, Go developer", store.saved[0].ExtractedText)
	assert.Equal(t, at, store.saved[0].At)

	// A second run reuses the stored text.
	_, err = a.Annotate(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Len(t, extractor.paths, 1)
}

func TestAnnotator_Failures(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		extractor *fakeExtractor
		evaluator *fakeEvaluator
		saveErr   error
		wantCode  apperrors.ErrorCode
	}{
		{"missing application", "nope", &fakeExtractor{}, &fakeEvaluator{}, nil, apperrors.ErrCodeNotFound},
		{"no cv", "app-2", &fakeExtractor{}, &fakeEvaluator{}, nil, apperrors.ErrCodePreconditionFailed},
		{"extraction failure", "app-1", &fakeExtractor{err: errors.New("scanned")}, &fakeEvaluator{}, nil, apperrors.ErrCodePreconditionFailed},
		{"provider failure", "app-1", &fakeExtractor{text: "cv"}, &fakeEvaluator{err: apperrors.NewProviderError("gemini", errors.New("quota"))}, nil, apperrors.ErrCodeProvider},
		{"save failure", "app-1", &fakeExtractor{text: "cv"}, &fakeEvaluator{result: &Result{Score: 10}}, errors.New("conn reset"), apperrors.ErrCodeQueryExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore()
			store.saveErr = tt.saveErr

			_, err := NewAnnotator(store, tt.extractor, tt.evaluator, logger.NewNoOpLogger()).Annotate(context.Background(), tt.id)
			assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v", err)
			if tt.saveErr == nil {
				assert.Empty(t, store.saved)
			}
		})
	}
}
