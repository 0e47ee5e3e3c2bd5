// File: cmd/app/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyboard-ai-generation/internal/config"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
	"storyboard-ai-generation/internal/domain/ports/repository"
	"storyboard-ai-generation/internal/infra/clients/comfy"
	"storyboard-ai-generation/internal/infra/clients/runpod"
	pg "storyboard-ai-generation/internal/infra/db/postgres"
	"storyboard-ai-generation/internal/infra/enhance"
	"storyboard-ai-generation/internal/infra/logging"
	"storyboard-ai-generation/internal/infra/metrics"
	"storyboard-ai-generation/internal/infra/notify"
	"storyboard-ai-generation/internal/infra/registry"
	red "storyboard-ai-generation/internal/infra/redis"
	"storyboard-ai-generation/internal/infra/store"
	"storyboard-ai-generation/internal/infra/web"
	"storyboard-ai-generation/internal/infra/worker"
	"storyboard-ai-generation/internal/usecase"
	"storyboard-ai-generation/internal/workflow"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}
	metrics.MustRegister()

	// ---- Stores (Postgres when configured, in-memory otherwise) ----
	var (
		jobs  repository.JobStore
		clips repository.ClipStore
	)
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connect failed")
		}
		defer pool.Close()
		jobs = pg.NewPostgresJobStore(pool)
		clips = pg.NewPostgresClipStore(pool)
		logger.Info().Msg("using postgres stores")
	} else {
		jobs = store.NewMemoryJobStore()
		clips = store.NewMemoryClipStore()
		logger.Warn().Msg("database.url not set; using in-memory stores")
	}

	// ---- Redis (optional cross-process caches) ----
	var (
		healthCache registry.HealthCache
		marker      usecase.RecordMarker
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect failed")
		}
		defer redisClient.Close()
		healthCache = red.NewHealthCache(redisClient, cfg.Redis.TTL)
		marker = red.NewRecordMarker(redisClient, 24*time.Hour)
		logger.Info().Msg("redis caches enabled")
	}

	// ---- Backend registry ----
	probers := map[model.BackendKind]registry.Prober{
		model.BackendKindStandard:   registry.NewStandardProber(5 * time.Second),
		model.BackendKindServerless: registry.NewServerlessProber(5 * time.Second),
	}
	reg := registry.New(probers, healthCache, cfg.Scheduler.HealthMaxAge, logger)
	for _, b := range cfg.Backends {
		if err := reg.Register(ctx, descriptorFromConfig(b)); err != nil {
			logger.Fatal().Err(err).Str("endpoint", b.Endpoint).Msg("backend registration failed")
		}
	}

	// ---- Execution clients ----
	clients := map[model.BackendKind]adapter.ExecutionClient{
		model.BackendKindStandard:   comfy.NewClient(cfg.Scheduler.PollInterval, cfg.Scheduler.PollTimeout, logger),
		model.BackendKindServerless: runpod.NewClient(cfg.Scheduler.PollInterval, cfg.Scheduler.PollTimeout, logger),
	}

	// ---- Prompt enhancer (OpenAI -> Gemini -> passthrough) ----
	var enhancer adapter.PromptEnhancer
	switch {
	case cfg.Enhancer.Provider == "openai" && cfg.Enhancer.OpenAIKey != "":
		enhancer, err = enhance.NewOpenAIEnhancer(cfg.Enhancer.OpenAIKey, cfg.Enhancer.Model, cfg.Enhancer.MaxTokens, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai enhancer init failed")
		}
		logger.Info().Str("model", cfg.Enhancer.Model).Msg("prompt enhancer: openai")
	case cfg.Enhancer.Provider == "gemini" && cfg.Enhancer.GeminiKey != "":
		enhancer, err = enhance.NewGeminiEnhancer(ctx, cfg.Enhancer.GeminiKey, cfg.Enhancer.Model, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini enhancer init failed")
		}
		logger.Info().Str("model", cfg.Enhancer.Model).Msg("prompt enhancer: gemini")
	default:
		enhancer = enhance.NewNoopEnhancer()
		logger.Info().Msg("prompt enhancer: disabled")
	}

	// ---- Alerts ----
	var notifier adapter.AlertNotifier
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.ChatID != 0 {
		notifier, err = notify.NewTelegramNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier init failed")
		}
		logger.Info().Str("token", logging.Redact(cfg.Alerts.TelegramToken, cfg.Runtime.Dev)).Msg("telegram alerts enabled")
	} else {
		notifier = notify.NewNoopNotifier()
	}

	// ---- Orchestration ----
	loads := registry.NewLoadTracker()
	recorder := usecase.NewResultRecorder(jobs, clips, marker, notifier, logger)
	pool := worker.NewPool(cfg.Scheduler.Workers, logger)
	builder := workflow.NewBuilder()
	genUC := usecase.NewGenerationUseCase(jobs, clips, reg, loads, builder, clients, recorder, enhancer, notifier, pool,
		usecase.Options{
			Weights: usecase.Weights{
				Active:  cfg.Scheduler.WeightActive,
				Queue:   cfg.Scheduler.WeightQueue,
				Failure: cfg.Scheduler.WeightFailure,
			},
			PerBackendLimit: int64(cfg.Scheduler.PerBackendConcurrency),
			MaxJobDuration:  cfg.Scheduler.MaxJobDuration,
		}, logger)

	pool.Start(ctx)
	dispatcher := worker.NewDispatcher(genUC, cfg.Scheduler.Tick, logger)
	go dispatcher.Start(ctx)

	// ---- HTTP ----
	srv := web.NewServer(genUC, reg, cfg.HTTP.JWTSecret, cfg.Runtime.Dev, logger)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
	pool.Stop()
	logger.Info().Msg("bye")
}

func descriptorFromConfig(b config.BackendConfig) *model.BackendDescriptor {
	kinds := make([]model.GenerationKind, 0, len(b.Kinds))
	for _, k := range b.Kinds {
		kinds = append(kinds, model.GenerationKind(k))
	}
	if len(kinds) == 0 {
		kinds = []model.GenerationKind{model.GenerationImage, model.GenerationVideo}
	}
	return &model.BackendDescriptor{
		ID:       b.ID,
		Kind:     model.BackendKind(b.Kind),
		Endpoint: b.Endpoint,
		APIKey:   b.APIKey,
		Capabilities: model.Capabilities{
			Kinds:  kinds,
			Models: b.Models,
		},
	}
}
