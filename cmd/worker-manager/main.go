// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"formation-review/internal/application"
	"formation-review/internal/common/camunda"
	"formation-review/internal/common/config"
	"formation-review/internal/common/database"
	"formation-review/internal/common/llm"
	"formation-review/internal/common/logger"
	"formation-review/internal/common/observability"
	"formation-review/internal/common/retry"
	"formation-review/internal/scoring"

	sac "formation-review/internal/workers/application/score-application-cv"
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

	zapLog.Info("Starting worker manager...", zap.String("environment", cfg.App.Environment))
	if !cfg.Camunda.Enabled {
		zapLog.Fatal("camunda.enabled is false; the API scores CVs inline and no worker is needed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retry.WithBackoff(func() error {
		var connErr error
		zeebe, connErr = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return connErr
	}, 5, 2*time.Second, zapLog, "Zeebe connection")
	if err != nil {
		zapLog.Fatal("failed to connect to Zeebe", zap.Error(err))
	}
	zapLog.Info("Connected to Zeebe", zap.String("address", cfg.Camunda.BrokerAddress))

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
	zapLog.Info("Connected to PostgreSQL")

	// --- Metrics ---
	obs, err := observability.New(cfg.App.Name + "-workers")
	if err != nil {
		zapLog.Fatal("failed to initialise observability", zap.Error(err))
	}

	// --- Scoring provider ---
	generator, err := llm.New(ctx, cfg.APIs)
	if err != nil {
		zapLog.Fatal("failed to create genai client", zap.Error(err))
	}
	defer generator.Close()

	annotator := scoring.NewAnnotator(
		application.NewRepository(pg.GetDB()),
		scoring.NewExtractor(30*time.Second),
		scoring.NewScorer(generator, cfg.APIs.GenAI.Provider, config.GetDuration(cfg.APIs.GenAI.Timeout), obs),
		log,
	)

	// --- Workers ---
	var workers []*camunda.CamundaWorker
	{
		wcfg := sac.LoadConfig(cfg)
		handler := sac.NewHandler(wcfg, annotator, obs, log)
		if w := startWorker(zeebe.GetClient(), sac.TaskType, wcfg.Enabled, wcfg.MaxJobsActive, wcfg.Timeout, handler.Handle, zapLog); w != nil {
			workers = append(workers, w)
		}
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := zeebe.HealthCheck(checkCtx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "zeebe: "+err.Error())
			return
		}
		if err := pg.Ping(checkCtx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "postgres: "+err.Error())
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: mux}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancelShutdown()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing metrics", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

type jobHandlerFunc func(worker.JobClient, entities.Job)

func (f jobHandlerFunc) Handle(client worker.JobClient, job entities.Job) error {
	f(client, job)
	return nil
}

func startWorker(client zbc.Client, taskType string, enabled bool, maxJobsActive int, timeout time.Duration, handlerFunc func(worker.JobClient, entities.Job), log *zap.Logger) *camunda.CamundaWorker {
	if !enabled {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return nil
	}

	return camunda.NewWorker(client, taskType, camunda.WorkerOptions{
		Name:          "formation-review-" + taskType,
		MaxJobsActive: maxJobsActive,
		Timeout:       timeout,
	}, jobHandlerFunc(handlerFunc), log)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
