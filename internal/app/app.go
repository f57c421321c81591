package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"image-pipeline/internal/broker"
	kafka_impl "image-pipeline/internal/broker/kafka"
	broker_mem "image-pipeline/internal/broker/memory"
	"image-pipeline/internal/config"
	"image-pipeline/internal/http-server/handler/processing"
	"image-pipeline/internal/http-server/middleware"
	"image-pipeline/internal/http-server/router"
	queue_uc "image-pipeline/internal/usecase/queue"
	task_uc "image-pipeline/internal/usecase/task"
	"image-pipeline/internal/worker"

	"github.com/wb-go/wbf/zlog"
)

type App struct {
	cfg      *config.Config
	server   *http.Server
	logger   *zlog.Zerolog
	infra    *Infra
	producer broker.Producer
	manager  *task_uc.Manager
	pool     *worker.Pool
	monitor  *worker.Monitor
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zlog.Zerolog) (*App, error) {
	infra, err := NewInfra(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, infra: infra}

	// With the memory broker tasks run inside this process; with kafka they
	// run in cmd/worker.
	var queue *broker_mem.Queue
	switch cfg.Worker.Broker {
	case "kafka":
		a.producer = kafka_impl.NewProducerClient(cfg)
	default:
		queue = broker_mem.NewQueue(cfg.Worker.QueueSize)
		a.producer = queue
	}

	a.manager = infra.NewManager(broker.NewDispatcher(a.producer))
	if queue != nil {
		a.pool = worker.NewPool(queue, a.manager.HandleMessage, cfg.Worker.Concurrency, logger)
		a.monitor = worker.NewMonitor(a.manager, cfg.Worker.StuckCheckInterval, logger)
	}

	coordinator := queue_uc.NewCoordinator(infra.Tasks, cfg.Queue.FailedWindow, logger)

	h := &router.Handler{
		Processing: processing.NewHandler(a.manager, coordinator, infra.Stats, cfg.Server.MaxAwait, logger),
		Auth:       middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger),
		Logger:     logger,
	}

	a.server = &http.Server{
		Addr:         ":" + cfg.Server.Addr,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

func (a *App) Run() error {
	a.logger.Info().
		Str("addr", a.cfg.Server.Addr).
		Str("storage", a.cfg.Storage.Driver).
		Str("broker", a.cfg.Worker.Broker).
		Msg("Starting server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.handleSignals(cancel)

	var background sync.WaitGroup
	if a.pool != nil {
		a.pool.Start(ctx)

		if n, err := a.manager.RecoverPending(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to recover pending tasks")
		} else if n > 0 {
			a.logger.Info().Int("count", n).Msg("Requeued pending tasks")
		}

		background.Add(1)
		go func() {
			defer background.Done()
			a.monitor.Run(ctx)
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		a.logger.Error().Err(err).Msg("Server error")
		runErr = fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("Server shutdown failed")
	}

	cancel()
	if a.pool != nil {
		a.pool.Wait()
	}
	background.Wait()

	if err := a.producer.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close producer")
	}
	a.infra.Close()

	a.logger.Info().Msg("Server stopped gracefully")
	return runErr
}

func (a *App) handleSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	a.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	cancel()
}
