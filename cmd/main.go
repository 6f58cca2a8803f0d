package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"subsync/internal/audit"
	"subsync/internal/config"
	"subsync/internal/httpapi"
	"subsync/internal/language"
	"subsync/internal/pipeline"
	"subsync/internal/provider/openai"
	"subsync/internal/scanner"
	"subsync/internal/segsync"
	"subsync/internal/service"
	"subsync/internal/store"
	"subsync/pkg/log"
)

func main() {
	_ = godotenv.Load()
	log.InitLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))

	if err := run(); err != nil {
		log.Fatal("%v", err)
	}
}

func run() error {
	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if settings, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(settings))
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Ignoring unreadable settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return err
	}

	// Single-instance lock: two daemons on one state database would race
	// each other's claims.
	lock := flock.New(cfg.Storage.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("another instance is already running, lock held at " + cfg.Storage.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	st, err := store.Open(cfg.Storage.DBPath(), store.WithMaxAttempts(cfg.Pipeline.MaxAttempts))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client, err := openai.NewClient(openai.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.APIURL,
		ChatModel:       cfg.LLM.Model,
		TranscribeModel: cfg.LLM.TranscribeModel,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}

	classifier := language.NewLocalClassifier()
	engine := segsync.NewEngine(classifier, openai.NewTranslator(client), segsync.Config{})

	orch, err := pipeline.NewOrchestrator(st,
		pipeline.Config{
			TargetLangs: cfg.Media.TargetLangs,
			Workers: map[store.StageKind]int{
				store.KindTranscription: cfg.Pipeline.Workers.Transcription,
				store.KindTranslation:   cfg.Pipeline.Workers.Translation,
				store.KindEvaluation:    cfg.Pipeline.Workers.Evaluation,
			},
			PollInterval: cfg.Pipeline.PollInterval,
			StageTimeout: cfg.Pipeline.StageTimeout,
			StaleTimeout: cfg.Pipeline.StaleTimeout,
		},
		pipeline.Backoff{Base: cfg.Pipeline.BackoffBase, Max: cfg.Pipeline.BackoffMax, Jitter: 0.2},
		pipeline.NewTranscribeHandler(st, openai.NewTranscriber(client), classifier),
		pipeline.NewTranslateHandler(st, engine),
		pipeline.NewEvaluateHandler(st, openai.NewEvaluator(client), 0),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	scanSvc := service.NewScanService(
		scanner.New(st, cfg.Media.Dirs),
		orch.Stages,
		cfg.Schedule.ScanCron,
		scheduler,
	)
	auditSvc := service.NewAuditService(
		audit.New(st, classifier, 0),
		st,
		cfg.Schedule.AuditRepair,
		cfg.Storage.ErrorRetention,
		cfg.Schedule.AuditCron,
		scheduler,
	)
	if err := scanSvc.Schedule(ctx); err != nil {
		return err
	}
	if err := auditSvc.Schedule(ctx); err != nil {
		return err
	}
	scheduler.Start()

	settingsStore, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		return err
	}
	server := httpapi.NewServer(st,
		httpapi.WithScanService(scanSvc),
		httpapi.WithAuditService(auditSvc),
		httpapi.WithRuntimeSettingsStore(settingsStore),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			log.Info("Runtime settings saved; they take effect on the next restart")
			return nil
		}),
	)
	go func() {
		log.Info("HTTP API listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server: %v", err)
		}
	}()

	log.Info("Pipeline started: dirs=%v targets=%v", cfg.Media.Dirs, cfg.Media.TargetLangs)
	runErr := orch.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		log.Error("Pipeline stopped: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	<-scheduler.Stop().Done()
	log.Info("Shutdown complete")
	return runErr
}
