package main

import (
	"context"

	"image-pipeline/internal/app/worker"
	"image-pipeline/internal/config"

	"github.com/wb-go/wbf/zlog"
)

func main() {
	zlog.Init()

	cfg, err := config.MustLoad()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	zlog.Logger.Info().
		Str("env", cfg.Env).
		Strs("brokers", cfg.Kafka.Brokers).
		Str("group", cfg.Kafka.GroupID).
		Msg("Starting image pipeline worker")

	w, err := worker.NewWorker(context.Background(), cfg, &zlog.Logger)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to create worker")
	}

	if err := w.Run(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Worker failed")
	}

	zlog.Logger.Info().Msg("Worker exited")
}
