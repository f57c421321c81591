package app

import (
	"context"
	"fmt"
	"time"

	"image-pipeline/internal/broker"
	"image-pipeline/internal/config"
	"image-pipeline/internal/repository/cache/redis"
	"image-pipeline/internal/repository/image/cloud/minio"
	image_pg "image-pipeline/internal/repository/image/db/postgres"
	"image-pipeline/internal/repository/memory"
	task_pg "image-pipeline/internal/repository/task/db/postgres"
	"image-pipeline/internal/usecase/processor"
	stats_uc "image-pipeline/internal/usecase/stats"
	task_uc "image-pipeline/internal/usecase/task"
	"image-pipeline/migrations"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

// Infra holds the stores and the engine shared by the API and the worker.
type Infra struct {
	cfg     *config.Config
	logger  *zlog.Zerolog
	Tasks   taskRepository
	Images  imageRepository
	Objects objectRepository
	Stats   *stats_uc.Aggregator
	Engine  *processor.Engine
	closers []func() error
}

func NewInfra(ctx context.Context, cfg *config.Config, logger *zlog.Zerolog) (*Infra, error) {
	inf := &Infra{cfg: cfg, logger: logger}

	var err error
	switch cfg.Storage.Driver {
	case "memory":
		err = inf.openMemory(ctx)
	default:
		err = inf.openPostgres()
	}
	if err != nil {
		inf.Close()
		return nil, err
	}

	if err := inf.openStats(ctx); err != nil {
		inf.Close()
		return nil, err
	}

	inf.Engine = processor.NewEngine(logger)
	if err := inf.Engine.Init(); err != nil {
		inf.Close()
		return nil, fmt.Errorf("failed to start transform engine: %w", err)
	}
	inf.closers = append(inf.closers, func() error {
		inf.Engine.Shutdown()
		return nil
	})

	return inf, nil
}

func (i *Infra) openPostgres() error {
	dbOpts := &dbpg.Options{
		MaxOpenConns:    i.cfg.DB.MaxOpenConns,
		MaxIdleConns:    i.cfg.DB.MaxIdleConns,
		ConnMaxLifetime: i.cfg.DB.ConnMaxLifetime,
	}

	db, err := dbpg.New(i.cfg.DBDSN(), []string{}, dbOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	i.closers = append(i.closers, db.Master.Close)

	if i.cfg.DB.AutoMigrate {
		if err := migrations.Up(db.Master); err != nil {
			return err
		}
		i.logger.Info().Msg("Database migrations applied")
	}

	files, err := minio.NewMinIORepository(i.cfg, i.logger)
	if err != nil {
		return fmt.Errorf("failed to create file repository: %w", err)
	}

	retries := i.cfg.DefaultRetryStrategy()
	i.Tasks = task_pg.NewTasksRepository(db, retries)
	i.Images = image_pg.NewImagesRepository(db, retries)
	i.Objects = files
	return nil
}

func (i *Infra) openMemory(ctx context.Context) error {
	tasks := memory.NewTaskStore()
	images := memory.NewImageStore()
	objects := memory.NewObjectStore(i.cfg.Minio.Bucket)

	if i.cfg.Storage.SeedDir != "" {
		n, err := seedImages(ctx, i.cfg.Storage.SeedDir, i.cfg.Storage.SeedUser, images, objects)
		if err != nil {
			return fmt.Errorf("failed to seed images: %w", err)
		}
		i.logger.Info().Int("images", n).Str("user_id", i.cfg.Storage.SeedUser).Msg("Seeded in-memory images")
	}

	i.Tasks = tasks
	i.Images = images
	i.Objects = objects
	i.logger.Warn().Msg("Using in-memory storage, state is lost on restart")
	return nil
}

// openStats builds the stats aggregator, with a Redis cache when enabled.
func (i *Infra) openStats(ctx context.Context) error {
	if !i.cfg.Redis.Enabled {
		i.Stats = stats_uc.NewAggregator(i.Tasks, nil, i.logger)
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := redis.NewClient(pingCtx, i.cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	i.closers = append(i.closers, client.Close)

	i.Stats = stats_uc.NewAggregator(i.Tasks, redis.NewStatsCache(client, i.cfg.Redis.StatsTTL), i.logger)
	return nil
}

// NewManager builds the task manager on top of the shared stores.
func (i *Infra) NewManager(d *broker.Dispatcher) *task_uc.Manager {
	return task_uc.NewManager(i.Tasks, i.Images, i.Objects, d, i.Engine, i.Stats, task_uc.Config{
		DispatchTimeout: i.cfg.Worker.DispatchTimeout,
		StuckAfter:      i.cfg.Worker.StuckAfter,
		PresignExpiry:   i.cfg.Minio.PresignExpiry,
	}, i.logger)
}

// Close releases resources in reverse order of acquisition.
func (i *Infra) Close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			i.logger.Error().Err(err).Msg("Failed to release resource")
		}
	}
	i.closers = nil
}
