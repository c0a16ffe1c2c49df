package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptail/sales-agent/internal/agent"
	"github.com/uptail/sales-agent/internal/ai"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/config"
	"github.com/uptail/sales-agent/internal/db"
	"github.com/uptail/sales-agent/internal/store/redisstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds the components every binary shares.
type App struct {
	Cfg      config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Repo     *chat.Repo
	Chat     *chat.Service
	Provider ai.Provider
	Pipeline *agent.Pipeline
	Registry *prometheus.Registry

	redis *redisstore.Store
}

// New opens the database, migrates it and builds the turn pipeline. The
// provider named by LLM_PROVIDER must be constructible, otherwise New fails.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	gdb, err := db.Open(cfg.DBDSN, log)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log, DB: gdb, Registry: prometheus.NewRegistry()}
	if err := db.Migrate(gdb); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	provider, err := ai.NewDefaultRegistry(cfg).Get(ctx, strings.ToLower(cfg.LLMProvider), "")
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Provider = provider
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Repo = chat.NewRepo(gdb, chat.WithCatalogTTL(cfg.CatalogCacheTTL))
	a.Chat = chat.NewService(a.Repo)

	opts := []agent.Option{
		agent.WithLimits(cfg.HardGuidelineCount, cfg.SoftGuidelineCount),
		agent.WithWindows(cfg.ContextWindowSize, cfg.SummaryWindowSize),
		agent.WithHistory(cfg.ModelHistory),
		agent.WithLogger(log.Named("pipeline")),
		agent.WithMetrics(agent.MustNewMetrics(a.Registry)),
	}
	if cfg.RedisAddr != "" {
		a.redis = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TurnLockTTL, log.Named("redis"))
		if err := a.redis.Ping(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		opts = append(opts, agent.WithLocker(a.redis))
	}
	a.Pipeline = agent.NewPipeline(a.Repo, provider, opts...)
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
