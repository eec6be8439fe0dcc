package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sumire/agentdesk/internal/config"
	"github.com/sumire/agentdesk/internal/handler"
	"github.com/sumire/agentdesk/internal/labelsync"
	"github.com/sumire/agentdesk/internal/repository"
	"github.com/sumire/agentdesk/internal/runtoken"
	"github.com/sumire/agentdesk/internal/service"
	"github.com/sumire/agentdesk/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "driver", cfg.DatabaseDriver)

	profile, err := config.LoadAgentProfile(cfg.AgentProfilePath, cfg.AgentBinary)
	if err != nil {
		return fmt.Errorf("load agent profile: %w", err)
	}

	repoRepo := repository.NewRepoRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	stepRepo := repository.NewStepRepository(db)
	questionRepo := repository.NewQuestionRepository(db)

	var labels service.LabelSyncer = labelsync.Nop{}
	var queue *labelsync.Queue
	if cfg.GitHubToken != "" {
		queue = labelsync.NewQueue(labelsync.Config{
			Tasks:       taskRepo,
			Repos:       repoRepo,
			Client:      labelsync.NewGitHubClient(ctx, cfg.GitHubAPIURL, cfg.GitHubToken),
			MaxAttempts: cfg.LabelSyncMaxAttempts,
			Logger:      logger.With("component", "labelsync"),
		})
		labels = queue
	} else {
		logger.Info("GITHUB_TOKEN not set, label sync disabled")
	}

	sup := supervisor.New(supervisor.Options{
		LogDir:      cfg.AgentLogDir,
		BufferLines: cfg.AgentBufferLines,
		StatusLines: cfg.AgentStatusLines,
		StopGrace:   cfg.AgentStopGrace,
		Logger:      logger.With("component", "supervisor"),
	})

	runTokens := runtoken.NewIssuer(cfg.RunTokenSecret)

	taskSvc := service.NewTaskService(taskRepo, labels, logger)
	progressSvc := service.NewProgressService(taskRepo, stepRepo, questionRepo, logger)
	agentSvc := service.NewAgentService(repoRepo, taskRepo, sup, service.AgentConfig{
		Profile: profile,
		APIURL:  cfg.PublicURL,
		Tokens:  runTokens,
	}, logger)

	e := handler.NewRouter(handler.RouterConfig{
		Tasks:        handler.NewTaskHandler(taskSvc),
		Progress:     handler.NewProgressHandler(progressSvc),
		Agents:       handler.NewAgentHandler(agentSvc),
		Logger:       logger,
		RunTokens:    runTokens,
		AllowOrigins: []string{cfg.FrontendURL},
	})

	e.Server.ReadTimeout = 10 * time.Second
	// Long-polls hold a request for up to service.MaxAnswerWait.
	e.Server.WriteTimeout = service.MaxAnswerWait + 15*time.Second
	e.Server.IdleTimeout = 60 * time.Second

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	sup.Shutdown(cfg.AgentStopGrace + time.Second)

	if queue != nil {
		if err := queue.Close(shutdownCtx); err != nil {
			logger.Warn("label sync queue did not drain", "error", err)
		}
	}

	logger.Info("server stopped gracefully")
	return nil
}
