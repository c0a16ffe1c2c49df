package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/uptail/sales-agent/internal/app"
	"github.com/uptail/sales-agent/internal/config"
	"github.com/uptail/sales-agent/internal/jobs"
	"github.com/uptail/sales-agent/internal/logging"
	"github.com/uptail/sales-agent/internal/store/rabbitmq"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log := logging.FromConfig(cfg).Named("worker")
	defer func() { _ = log.Sync() }()

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, log)
	if err != nil {
		log.Fatal("rabbit consumer", zap.Error(err))
	}
	defer func() { _ = consumer.Close() }()
	// in-flight turns get as long as their session lock
	consumer.SetDrainTimeout(cfg.TurnLockTTL)

	// the worker only executes jobs, it never publishes new ones
	svc := jobs.NewService(a.Repo, nil, a.Pipeline, log)
	if err := consumer.Run(ctx, svc.Handle); err != nil {
		log.Error("consumer stopped", zap.Error(err))
	}
}
