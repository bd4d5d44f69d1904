package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/hasferrr/mitsuko-client-sub003/internal/config"
	"github.com/hasferrr/mitsuko-client-sub003/internal/httpapi"
	"github.com/hasferrr/mitsuko-client-sub003/internal/llm"
	"github.com/hasferrr/mitsuko-client-sub003/internal/metrics"
	"github.com/hasferrr/mitsuko-client-sub003/internal/persistence"
	"github.com/hasferrr/mitsuko-client-sub003/internal/service"
	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
	"github.com/hasferrr/mitsuko-client-sub003/internal/termmap"
	"github.com/hasferrr/mitsuko-client-sub003/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type drainer interface {
	Shutdown(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}

	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if settings, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(settings))
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Ignoring runtime settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	closeLog := setupLogger(cfg.System)
	defer closeLog()

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		log.Fatal("Failed to open database: %v", err)
	}
	defer store.Close()

	client, err := llm.NewClient(llmConfig(cfg.LLM))
	if err != nil {
		log.Fatal("Failed to create LLM client: %v", err)
	}

	registry := session.NewRegistry(session.Options{
		ParseInterval: cfg.Session.ParseInterval,
		Observer:      metrics.SessionObserver{},
	})
	glossaries := termmap.NewDir(cfg.GlossaryPath())
	svc := service.New(registry, client, store, service.Options{
		TargetLanguage:   cfg.Translate.TargetLanguage,
		BatchConcurrency: cfg.Translate.BatchConcurrency,
		JSONMode:         cfg.LLM.JSONMode,
		Glossaries:       glossaries,
	})

	cronEngine := cron.New()
	sweeper := &sessionSweeper{
		registry:  registry,
		cron:      cronEngine,
		spec:      cfg.Session.SweepCron,
		retention: cfg.Session.Retention,
	}

	settingsStore, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		log.Fatal("Failed to create runtime settings store: %v", err)
	}
	srv := httpapi.NewServer(svc,
		httpapi.WithRuntimeSettingsStore(settingsStore),
		httpapi.WithGlossaryStore(glossaries),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			llmCfg := cfg.LLM
			llmCfg.APIURL = next.LLMAPIURL
			llmCfg.APIKey = next.LLMAPIKey
			llmCfg.Model = next.LLMModel
			client, err := llm.NewClient(llmConfig(llmCfg))
			if err != nil {
				return err
			}
			svc.SetStreamer(client)
			svc.SetTargetLanguage(next.TargetTag())
			return sweeper.Reschedule(next.SweepCron)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWithComponents(ctx, cfg, sweeper, cronEngine, srv, svc); err != nil {
		log.Error("Server stopped: %v", err)
		os.Exit(1)
	}
}

// runWithComponents starts the scheduler and HTTP server and blocks until
// ctx is done or the server fails, then shuts everything down.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, cronEngine cronEngine, srv httpServer, sessions drainer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	cronEngine.Start()
	defer cronEngine.Stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		serveErr <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	if sessions != nil {
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			log.Warn("Sessions did not drain: %v", err)
		}
	}
	return runErr
}

// sessionSweeper keeps exactly one registry sweep scheduled on the cron engine.
type sessionSweeper struct {
	registry  *session.Registry
	cron      *cron.Cron
	retention time.Duration

	mu    sync.Mutex
	spec  string
	entry cron.EntryID
}

func (s *sessionSweeper) Schedule(context.Context) error {
	s.mu.Lock()
	spec := s.spec
	s.mu.Unlock()
	return s.Reschedule(spec)
}

func (s *sessionSweeper) Reschedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 && spec == s.spec {
		return nil
	}
	id, err := s.registry.ScheduleSweep(s.cron, spec, s.retention)
	if err != nil {
		return err
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = id
	s.spec = spec
	return nil
}

func setupLogger(sys config.SystemConfig) func() {
	level := log.ParseLevel(sys.LogLevel)
	if sys.LogFile == "" {
		log.InitLogger(level)
		return func() {}
	}
	fileLogger, err := log.NewFileLogger(sys.LogFile, level)
	if err != nil {
		log.InitLogger(level)
		log.Warn("Logging to stdout only: %v", err)
		return func() {}
	}
	log.SetLogger(fileLogger.Logger)
	return func() { _ = fileLogger.Close() }
}

func llmConfig(c config.LLMConfig) *llm.Config {
	return &llm.Config{
		APIKey:      c.APIKey,
		APIURL:      c.APIURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
		SiteURL:     c.SiteURL,
		AppName:     c.AppName,
	}
}
