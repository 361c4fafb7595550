// Package api exposes the review workflow, interviews and notifications over
// HTTP with gin.
package api

import (
	"context"
	"net/http"

	"formation-review/internal/application"
	"formation-review/internal/common/auth"
	"formation-review/internal/common/logger"
	"formation-review/internal/interview"
	"formation-review/internal/models"
	"formation-review/internal/notification"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ApplicationService is the review state machine and its read side.
type ApplicationService interface {
	Submit(ctx context.Context, actor *auth.Identity, in application.SubmitInput) (*models.Application, error)
	Approve(ctx context.Context, actor *auth.Identity, id, notes string) (*models.Application, error)
	Reject(ctx context.Context, actor *auth.Identity, id, notes string) (*models.Application, error)
	Withdraw(ctx context.Context, actor *auth.Identity, id string) (*models.Application, error)
	Get(ctx context.Context, actor *auth.Identity, id string) (*models.Application, error)
	AuthorizeReview(ctx context.Context, actor *auth.Identity, id string) (*models.Application, error)
	ListMine(ctx context.Context, actor *auth.Identity, limit, offset int) ([]models.Application, error)
	ListPending(ctx context.Context, actor *auth.Identity, limit, offset int) ([]models.Application, error)
	ListForFormation(ctx context.Context, actor *auth.Identity, formationID string) (*models.Formation, []models.Application, error)
}

type ApplicationSearcher interface {
	Search(ctx context.Context, actor *auth.Identity, q application.SearchQuery) (*application.SearchResult, error)
}

type InterviewService interface {
	Schedule(ctx context.Context, actor *auth.Identity, in interview.ScheduleInput) (*models.Interview, error)
	Cancel(ctx context.Context, actor *auth.Identity, id string) (*models.Interview, error)
	Reschedule(ctx context.Context, actor *auth.Identity, id string, in interview.RescheduleInput) (*models.Interview, error)
	Complete(ctx context.Context, actor *auth.Identity, id string) (*models.Interview, error)
	ListForApplication(ctx context.Context, actor *auth.Identity, applicationID string) ([]models.Interview, error)
}

type NotificationService interface {
	List(ctx context.Context, userID string, f notification.ListFilter) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, userID, id string) (*models.Notification, error)
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Analyzer scores an application's CV synchronously.
type Analyzer interface {
	Annotate(ctx context.Context, applicationID string) (*models.Application, error)
}

// ProcessStarter hands scoring to the workflow engine.
type ProcessStarter interface {
	Start(ctx context.Context, variables map[string]interface{}) (int64, error)
}

// ReadinessCheck reports whether one backing service is usable.
type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Applications   ApplicationService
	Search         ApplicationSearcher
	Interviews     InterviewService
	Notifications  NotificationService
	Analyzer       Analyzer
	Scoring        ProcessStarter // nil scores inline
	CVStore        *application.CVStore
	Verifier       auth.Verifier
	Limiter        Limiter // nil disables rate limiting
	Live           http.Handler
	Readiness      map[string]ReadinessCheck
	AllowedOrigins []string
	Logger         logger.Logger
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(deps Dependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"component": "http"})

	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(log))

	corsCfg := cors.DefaultConfig()
	if len(deps.AllowedOrigins) == 0 || (len(deps.AllowedOrigins) == 1 && deps.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = deps.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	health := &healthHandler{checks: deps.Readiness}
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if deps.Live != nil {
		r.GET("/ws", gin.WrapH(deps.Live))
	}

	api := r.Group("/")
	api.Use(Authenticate(deps.Verifier), RateLimit(deps.Limiter, log))

	apps := &applicationHandler{
		apps:     deps.Applications,
		search:   deps.Search,
		analyzer: deps.Analyzer,
		scoring:  deps.Scoring,
		cvs:      deps.CVStore,
		logger:   log,
	}
	interviews := &interviewHandler{interviews: deps.Interviews}
	notifications := &notificationHandler{notifications: deps.Notifications}

	api.POST("/applications", apps.Submit)
	api.GET("/applications/mine", apps.ListMine)
	api.GET("/applications/pending", apps.ListPending)
	api.GET("/applications/search", apps.Search)
	api.GET("/applications/:id", apps.Get)
	api.POST("/applications/:id/approve", apps.Approve)
	api.POST("/applications/:id/reject", apps.Reject)
	api.POST("/applications/:id/withdraw", apps.Withdraw)
	api.POST("/applications/:id/analyze", apps.Analyze)
	api.GET("/applications/:id/interviews", interviews.ListForApplication)
	api.GET("/formations/:id/applications/export", apps.Export)

	api.POST("/interviews", interviews.Schedule)
	api.POST("/interviews/:id/cancel", interviews.Cancel)
	api.POST("/interviews/:id/reschedule", interviews.Reschedule)
	api.POST("/interviews/:id/complete", interviews.Complete)

	api.GET("/notifications", notifications.List)
	api.GET("/notifications/unread-count", notifications.UnreadCount)
	api.POST("/notifications/read-all", notifications.MarkAllAsRead)
	api.POST("/notifications/:id/read", notifications.MarkAsRead)

	return r
}
