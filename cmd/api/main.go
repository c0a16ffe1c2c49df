package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uptail/sales-agent/internal/app"
	"github.com/uptail/sales-agent/internal/config"
	"github.com/uptail/sales-agent/internal/httpapi"
	"github.com/uptail/sales-agent/internal/httpapi/handlers"
	"github.com/uptail/sales-agent/internal/jobs"
	"github.com/uptail/sales-agent/internal/logging"
	"github.com/uptail/sales-agent/internal/store/rabbitmq"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log := logging.FromConfig(cfg)
	defer func() { _ = log.Sync() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	var jobSvc *jobs.Service
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit publisher", zap.Error(err))
		}
		defer func() { _ = pub.Close() }()
		jobSvc = jobs.NewService(a.Repo, pub, a.Pipeline, log.Named("jobs"))
	} else {
		log.Info("RABBIT_URL not set, async turns disabled")
	}

	h := handlers.NewHandler(a.Chat, a.Pipeline, jobSvc, log.Named("http"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, log.Named("http"), a.Registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api listening", zap.String("addr", cfg.HTTPAddr), zap.String("provider", cfg.LLMProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
