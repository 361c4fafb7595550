// internal/workers/application/score-application-cv/handler.go
package scoreapplicationcv

import (
	"context"
	"time"

	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/common/metrics"
	"formation-review/internal/common/observability"
	"formation-review/internal/common/validation"
	"formation-review/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "score-application-cv"

var inputSchema = validation.MustCompile("score-application-cv input", `{
	"type": "object",
	"required": ["applicationId"],
	"properties": {
		"applicationId": {"type": "string", "minLength": 1}
	}
}`)

// Annotator extracts, scores and persists one application's CV.
type Annotator interface {
	Annotate(ctx context.Context, applicationID string) (*models.Application, error)
}

// JobErrorHandler fails or throws the job according to the error code.
type JobErrorHandler interface {
	HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error)
}

type Handler struct {
	config    *Config
	annotator Annotator
	errors    JobErrorHandler
	obs       *observability.Observability
	logger    logger.Logger
	now       func() time.Time
}

func NewHandler(cfg *Config, annotator Annotator, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    cfg,
		annotator: annotator,
		errors:    apperrors.NewErrorHandler(log),
		obs:       obs,
		logger:    log,
		now:       time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"workflowKey": job.GetProcessInstanceKey(),
	})

	output, err := h.process(ctx, job)
	if err != nil {
		code := apperrors.Normalize(err).Code
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(code)).Inc()
		h.obs.RecordJobProcessed(ctx, TaskType, "failed")
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	h.obs.RecordJobProcessed(ctx, TaskType, "completed")
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(startTime))
}

func (h *Handler) process(ctx context.Context, job entities.Job) (*Output, error) {
	input, err := parseInput(job)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, input)
}

func parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to parse job variables", err.Error())
	}
	if err := inputSchema.Check(variables); err != nil {
		return nil, err
	}
	return &Input{ApplicationID: variables["applicationId"].(string)}, nil
}

// Execute scores the application. Status is left untouched.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	app, err := h.annotator.Annotate(ctx, input.ApplicationID)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ApplicationID: app.ID,
		ScoredAt:      h.now().UTC().Format(time.RFC3339),
	}
	if app.Score != nil {
		out.Score = *app.Score
	}
	if app.Summary != nil {
		out.Summary = *app.Summary
	}

	h.logger.Info("cv scored", map[string]interface{}{
		"applicationId": app.ID,
		"score":         out.Score,
	})
	return out, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(output.variables())
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err,
		})
		return
	}
	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err,
		})
		return
	}
	h.logger.Info("job completed successfully", map[string]interface{}{"jobKey": job.GetKey()})
}
