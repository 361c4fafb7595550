// cmd/review-api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formation-review/internal/account"
	"formation-review/internal/api"
	"formation-review/internal/application"
	"formation-review/internal/common/auth"
	"formation-review/internal/common/aws"
	"formation-review/internal/common/camunda"
	"formation-review/internal/common/config"
	"formation-review/internal/common/database"
	"formation-review/internal/common/llm"
	"formation-review/internal/common/logger"
	"formation-review/internal/common/observability"
	"formation-review/internal/common/retry"
	"formation-review/internal/interview"
	"formation-review/internal/notification"
	"formation-review/internal/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	zapLog.Info("Starting review API...", zap.String("environment", cfg.App.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readiness := map[string]api.ReadinessCheck{}

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retry.WithBackoff(func() error {
		var connErr error
		pg, connErr = database.NewPostgres(ctx, cfg.Database.Postgres)
		return connErr
	}, 5, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()
	db := pg.GetDB()
	readiness["postgres"] = pg.Ping
	zapLog.Info("Connected to PostgreSQL")

	// --- Redis ---
	var rdb *database.RedisClient
	if cfg.Database.Redis.Enabled {
		rdb = database.NewRedis(cfg.Database.Redis)
		err = retry.WithBackoff(func() error {
			return rdb.Ping(ctx)
		}, 5, time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		readiness["redis"] = rdb.Ping
		zapLog.Info("Connected to Redis", zap.String("address", cfg.Database.Redis.Address))
	}

	// --- Elasticsearch ---
	var searchIndex *application.SearchIndex
	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			zapLog.Fatal("failed to create Elasticsearch client", zap.Error(err))
		}
		searchIndex = application.NewSearchIndex(es.Client, es.Index)
		err = retry.WithBackoff(func() error {
			return searchIndex.EnsureIndex(ctx)
		}, 5, 2*time.Second, zapLog, "Elasticsearch index setup")
		if err != nil {
			zapLog.Fatal("failed to prepare Elasticsearch index", zap.Error(err))
		}
		readiness["elasticsearch"] = es.Ping
		zapLog.Info("Connected to Elasticsearch", zap.String("index", es.Index))
	}

	// --- Authentication ---
	var verifier auth.Verifier
	switch cfg.Auth.Provider {
	case config.AuthProviderKeycloak:
		kc := cfg.Auth.Keycloak
		verifier = auth.NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret, config.GetDuration(kc.Timeout))
	default:
		verifier = auth.NewJWTVerifier(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer, config.GetDuration(cfg.Auth.JWT.TTL))
	}

	// --- Notifications ---
	hub := notification.NewHub(cfg.Live.SendBuffer)
	defer hub.Close()

	var (
		publisher notification.Publisher = notification.NewLocalPublisher(hub)
		unread    *notification.UnreadCache
	)
	if rdb != nil {
		relay := notification.NewRedisRelay(rdb.GetClient(), cfg.Live.RelayChannel, hub, log)
		if err := relay.Start(ctx); err != nil {
			zapLog.Fatal("failed to start live relay", zap.Error(err))
		}
		publisher = relay
		unread = notification.NewUnreadCache(rdb.GetClient(), 5*time.Minute)
	}

	store := notification.NewStore(db)
	emitterOpts := []notification.EmitterOption{notification.WithUnreadCache(unread)}
	if delivery := newDelivery(ctx, cfg, store, account.NewRepository(db), log, zapLog); delivery != nil {
		emitterOpts = append(emitterOpts, notification.WithDelivery(delivery, config.GetDuration(cfg.Integrations.DeliveryTimeout)))
	}
	emitter := notification.NewEmitter(store, publisher, log, emitterOpts...)
	defer emitter.Close()

	// --- Applications ---
	appRepo := application.NewRepository(db)
	var indexer application.Indexer
	if searchIndex != nil {
		indexer = searchIndex
	}
	lifecycle := application.NewLifecycle(appRepo, emitter, indexer, log)

	// --- Interviews ---
	location, err := time.LoadLocation(cfg.Integrations.Calendar.TimeZone)
	if err != nil {
		zapLog.Fatal("invalid calendar time zone", zap.String("timeZone", cfg.Integrations.Calendar.TimeZone), zap.Error(err))
	}
	var calendarProvider interview.CalendarProvider
	if cfg.Integrations.Calendar.Enabled {
		gc, err := interview.NewGoogleCalendar(ctx, cfg.Integrations.Calendar)
		if err != nil {
			zapLog.Fatal("failed to create calendar client", zap.Error(err))
		}
		calendarProvider = gc
	}
	scheduler := interview.NewScheduler(
		interview.NewRepository(db),
		lifecycle,
		emitter,
		calendarProvider,
		interview.SchedulerConfig{
			Location:        location,
			CalendarTimeout: config.GetDuration(cfg.Integrations.Calendar.Timeout),
		},
		log,
	)
	if calendarProvider != nil {
		readiness["calendar"] = scheduler.CalendarHealth
	}

	// --- Scoring ---
	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("failed to initialise observability", zap.Error(err))
	}

	deps := api.Dependencies{
		Applications:   lifecycle,
		Interviews:     scheduler,
		Notifications:  notification.NewService(store, unread, log),
		CVStore:        application.NewCVStore(cfg.Storage.CVDir, cfg.Storage.MaxUploadMB),
		Verifier:       verifier,
		Readiness:      readiness,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
		Live: notification.NewLiveHandler(verifier, hub, notification.LiveConfig{
			PingInterval:   config.GetDuration(cfg.Live.PingInterval),
			PongWait:       config.GetDuration(cfg.Live.PongWait),
			WriteWait:      config.GetDuration(cfg.Live.WriteWait),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, log),
	}
	if searchIndex != nil {
		deps.Search = searchIndex
	}
	if rdb != nil && cfg.RateLimit.Enabled {
		deps.Limiter = api.NewRedisLimiter(rdb.GetClient(), cfg.RateLimit.Requests, config.GetDuration(cfg.RateLimit.Window))
	}

	if cfg.Camunda.Enabled {
		zeebe, err := camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		if err != nil {
			zapLog.Fatal("failed to connect to Zeebe", zap.Error(err))
		}
		defer zeebe.Close()
		deps.Scoring = camunda.NewProcessStarter(zeebe, cfg.Camunda.ProcessID)
		readiness["zeebe"] = zeebe.HealthCheck
	} else {
		generator, err := llm.New(ctx, cfg.APIs)
		if err != nil {
			zapLog.Warn("CV scoring disabled", zap.Error(err))
		} else {
			defer generator.Close()
			deps.Analyzer = scoring.NewAnnotator(
				appRepo,
				scoring.NewExtractor(30*time.Second),
				scoring.NewScorer(generator, cfg.APIs.GenAI.Provider, config.GetDuration(cfg.APIs.GenAI.Timeout), obs),
				log,
			)
		}
	}

	// --- HTTP server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing metrics", zap.Error(err))
	}
	cancel()

	zapLog.Info("Review API stopped gracefully")
}

// newDelivery builds the email/SMS side channel, or nil when both are disabled.
func newDelivery(ctx context.Context, cfg *config.Config, store *notification.Store, users notification.RecipientLookup, log logger.Logger, zapLog *zap.Logger) *notification.Delivery {
	awsCfg := cfg.Integrations.AWS
	if !awsCfg.SES.Enabled && !awsCfg.SNS.Enabled {
		return nil
	}

	sdkCfg, err := aws.LoadConfig(ctx, awsCfg.Region)
	if err != nil {
		zapLog.Fatal("failed to load AWS configuration", zap.Error(err))
	}

	var (
		sesClient notification.SESService
		snsClient notification.SNSService
	)
	if awsCfg.SES.Enabled {
		sesClient = aws.NewSESClient(sdkCfg)
	}
	if awsCfg.SNS.Enabled {
		snsClient = aws.NewSNSClient(sdkCfg)
	}

	return notification.NewDelivery(notification.DeliveryConfig{
		EmailEnabled: awsCfg.SES.Enabled,
		SMSEnabled:   awsCfg.SNS.Enabled,
		FromEmail:    awsCfg.SES.FromEmail,
		SMSSenderID:  awsCfg.SNS.DefaultSMSSenderID,
	}, sesClient, snsClient, users, store, log)
}
