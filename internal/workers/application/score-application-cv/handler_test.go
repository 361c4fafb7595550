package scoreapplicationcv

import (
	"context"
	"errors"
	"testing"
	"time"

	"formation-review/internal/common/config"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnnotator struct {
	gotID string
	app   *models.Application
	err   error
}

func (f *fakeAnnotator) Annotate(_ context.Context, id string) (*models.Application, error) {
	f.gotID = id
	return f.app, f.err
}

type recordingErrors struct {
	job entities.Job
	err error
}

func (r *recordingErrors) HandleJobError(_ context.Context, _ worker.JobClient, job entities.Job, err error) {
	r.job = job
	r.err = err
}

func newJob(key int64, variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: key, Type: TaskType, Variables: variables, Retries: 3}}
}

func newTestHandler(t *testing.T, annotator Annotator) (*Handler, *recordingErrors) {
	h := NewHandler(&Config{Enabled: true, Timeout: 5 * time.Second}, annotator, nil, logger.NewTestLogger(t))
	rec := &recordingErrors{}
	h.errors = rec
	h.now = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }
	return h, rec
}

func TestHandler_Execute_Success(t *testing.T) {
	score := 82
	summary := "Solid backend experience"
	annotator := &fakeAnnotator{app: &models.Application{ID: "app-1", Score: &score, Summary: &summary}}
	h, _ := newTestHandler(t, annotator)

	out, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1"})

	require.NoError(t, err)
	assert.Equal(t, "app-1", annotator.gotID)
	assert.Equal(t, 82, out.Score)
	assert.Equal(t, "Solid backend experience", out.Summary)
	assert.Equal(t, "2026-04-02T10:00:00Z", out.ScoredAt)
	assert.Equal(t, map[string]interface{}{
		"applicationId": "app-1",
		"cvScore":       82,
		"cvSummary":     "Solid backend experience",
		"cvScoredAt":    "2026-04-02T10:00:00Z",
	}, out.variables())
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		wantID    string
		wantErr   bool
	}{
		{"valid", `{"applicationId":"app-9","other":1}`, "app-9", false},
		{"missing id", `{"other":1}`, "", true},
		{"empty id", `{"applicationId":""}`, "", true},
		{"wrong type", `{"applicationId":42}`, "", true},
		{"not json", `{`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := parseInput(newJob(1, tt.variables))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, input.ApplicationID)
		})
	}
}

func TestHandle_RoutesFailuresToErrorHandler(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		annotErr  error
		wantCode  apperrors.ErrorCode
	}{
		{"invalid input", `{}`, nil, apperrors.ErrCodeValidation},
		{"provider failure", `{"applicationId":"app-1"}`, apperrors.NewProviderError("vertexai", errors.New("quota")), apperrors.ErrCodeProvider},
		{"no cv", `{"applicationId":"app-1"}`, apperrors.NewPreconditionFailedError("Application has no CV", "app-1"), apperrors.ErrCodePreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, rec := newTestHandler(t, &fakeAnnotator{err: tt.annotErr})

			h.Handle(nil, newJob(77, tt.variables))

			require.Error(t, rec.err)
			assert.Equal(t, int64(77), rec.job.GetKey())
			assert.Equal(t, tt.wantCode, apperrors.Normalize(rec.err).Code)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	appCfg := &config.Config{Workers: map[string]config.WorkerConfig{
		TaskType: {Enabled: true, MaxJobsActive: 4, Timeout: 30000, MaxRetries: 2},
	}}
	appCfg.APIs.GenAI.Timeout = 60000

	cfg := LoadConfig(appCfg)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 4, cfg.MaxJobsActive)
	assert.Equal(t, 70*time.Second, cfg.Timeout)

	defaults := LoadConfig(&config.Config{})
	assert.True(t, defaults.Enabled)
	assert.Equal(t, 120*time.Second, defaults.Timeout)
}
