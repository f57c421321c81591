package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"image-pipeline/internal/app"
	"image-pipeline/internal/broker"
	kafka_impl "image-pipeline/internal/broker/kafka"
	"image-pipeline/internal/config"
	task_uc "image-pipeline/internal/usecase/task"
	workerpool "image-pipeline/internal/worker"

	"github.com/wb-go/wbf/zlog"
)

// Worker executes tasks dispatched through Kafka by the API process.
type Worker struct {
	cfg      *config.Config
	logger   *zlog.Zerolog
	infra    *app.Infra
	consumer *kafka_impl.ConsumerClient
	producer *kafka_impl.ProducerClient
	manager  *task_uc.Manager
	pool     *workerpool.Pool
	monitor  *workerpool.Monitor
}

func NewWorker(ctx context.Context, cfg *config.Config, logger *zlog.Zerolog) (*Worker, error) {
	if cfg.Worker.Broker != "kafka" {
		return nil, fmt.Errorf("worker process requires worker.broker=kafka, got %q", cfg.Worker.Broker)
	}

	infra, err := app.NewInfra(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	consumer := kafka_impl.NewConsumerClient(cfg)
	producer := kafka_impl.NewProducerClient(cfg)
	manager := infra.NewManager(broker.NewDispatcher(producer))

	return &Worker{
		cfg:      cfg,
		logger:   logger,
		infra:    infra,
		consumer: consumer,
		producer: producer,
		manager:  manager,
		pool:     workerpool.NewPool(consumer, manager.HandleMessage, cfg.Worker.Concurrency, logger),
		monitor:  workerpool.NewMonitor(manager, cfg.Worker.StuckCheckInterval, logger),
	}, nil
}

func (w *Worker) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.pool.Start(ctx)

	var monitor sync.WaitGroup
	monitor.Add(1)
	go func() {
		defer monitor.Done()
		w.monitor.Run(ctx)
	}()

	w.logger.Info().
		Int("concurrency", w.cfg.Worker.Concurrency).
		Str("topic", w.cfg.Kafka.ProcessingTopic).
		Msg("Worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	w.logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	cancel()

	w.pool.Wait()
	monitor.Wait()

	if err := w.consumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close consumer")
	}
	if err := w.producer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close producer")
	}
	w.infra.Close()

	return nil
}
