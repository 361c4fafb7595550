package scoring

import (
	"context"
	"errors"
	"strings"
	"time"

	"formation-review/internal/application"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/models"
)

// Store is the part of the application repository the annotator needs.
type Store interface {
	Get(ctx context.Context, id string) (*models.Application, error)
	GetFormation(ctx context.Context, id string) (*models.Formation, error)
	SaveAnnotation(ctx context.Context, id string, an application.Annotation) error
}

// TextExtractor reads the text of an uploaded CV.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Evaluator scores CV text against a job description.
type Evaluator interface {
	Score(ctx context.Context, cvText, jobDescription string) (*Result, error)
}

// Annotator scores an application's CV and stores the result. The review
// status is never touched.
type Annotator struct {
	store     Store
	extractor TextExtractor
	evaluator Evaluator
	logger    logger.Logger
	now       func() time.Time
}

func NewAnnotator(store Store, extractor TextExtractor, evaluator Evaluator, log logger.Logger) *Annotator {
	return &Annotator{
		store:     store,
		extractor: extractor,
		evaluator: evaluator,
		logger:    log.WithFields(map[string]interface{}{"component": "cv-annotator"}),
		now:       time.Now,
	}
}

func (a *Annotator) Annotate(ctx context.Context, applicationID string) (*models.Application, error) {
	app, err := a.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	text, err := a.cvText(ctx, app)
	if err != nil {
		return nil, err
	}

	formation, err := a.store.GetFormation(ctx, app.FormationID)
	if errors.Is(err, application.ErrFormationAbsent) {
		return nil, apperrors.NewNotFoundError("formation", app.FormationID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get formation", err)
	}

	result, err := a.evaluator.Score(ctx, text, jobDescription(formation))
	if err != nil {
		a.logger.Warn("cv scoring failed", map[string]interface{}{
			"applicationId": applicationID,
			"error":         err,
		})
		return nil, err
	}

	err = a.store.SaveAnnotation(ctx, applicationID, application.Annotation{
		ExtractedText: text,
		Score:         result.Score,
		Summary:       result.Summary,
		Analysis:      result.Analysis,
		Resume:        result.Resume,
		At:            a.now().UTC(),
	})
	if errors.Is(err, application.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("application", applicationID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("save cv annotation", err)
	}

	a.logger.Info("cv scored", map[string]interface{}{
		"applicationId": applicationID,
		"score":         result.Score,
	})
	return a.load(ctx, applicationID)
}

func (a *Annotator) load(ctx context.Context, id string) (*models.Application, error) {
	app, err := a.store.Get(ctx, id)
	if errors.Is(err, application.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get application", err)
	}
	return app, nil
}

// cvText prefers text extracted by an earlier run.
func (a *Annotator) cvText(ctx context.Context, app *models.Application) (string, error) {
	if app.ExtractedText != nil && strings.TrimSpace(*app.ExtractedText) != "" {
		return *app.ExtractedText, nil
	}
	if app.CVPath == "" {
		return "", apperrors.NewPreconditionFailedError("Application has no CV", app.ID)
	}

	text, err := a.extractor.Extract(ctx, app.CVPath)
	if err != nil {
		return "", apperrors.NewPreconditionFailedError("CV text could not be extracted", err.Error())
	}
	return text, nil
}

func jobDescription(f *models.Formation) string {
	if strings.TrimSpace(f.Description) == "" {
		return "Title: " + f.Title
	}
	return "Title: " + f.Title + "\nDescription: " + f.Description
}
