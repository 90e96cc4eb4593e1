package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DarbotLM/Detris/internal/api"
	"github.com/DarbotLM/Detris/internal/config"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/leaderboard"
	"github.com/DarbotLM/Detris/internal/observability/alerting"
	"github.com/DarbotLM/Detris/internal/observability/metrics"
	"github.com/DarbotLM/Detris/internal/storage"
	"github.com/DarbotLM/Detris/internal/storage/sqlstore"
	"github.com/DarbotLM/Detris/internal/submission"
	"github.com/DarbotLM/Detris/pkg/logger"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 API 服务与提交验证工作池",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}
}

// dbPool 按 DSN 复用数据库连接，排行榜与提交存储可以共用一个库。
type dbPool struct {
	ctx context.Context
	dbs map[string]*sql.DB
}

func (p *dbPool) open(cfg config.StoreConfig) (*sql.DB, error) {
	key := cfg.Driver + "|" + cfg.DSN
	if db, ok := p.dbs[key]; ok {
		return db, nil
	}
	db, err := sqlstore.Open(p.ctx, cfg.SQL())
	if err != nil {
		return nil, err
	}
	p.dbs[key] = db
	return db, nil
}

func (p *dbPool) close() {
	for _, db := range p.dbs {
		_ = db.Close()
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("detrisd")
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	pool := &dbPool{ctx: ctx, dbs: make(map[string]*sql.DB)}
	defer pool.close()

	boardStore, err := openLeaderboardStore(pool, cfg.Leaderboard)
	if err != nil {
		return err
	}
	board := leaderboard.NewService(boardStore, leaderboard.WithLogger(logger.Named("leaderboard")))

	subStore, err := openSubmissionStore(pool, cfg.Submissions.Store)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		_ = subStore.Close()
		return err
	}
	artifacts, err := openArtifacts(cfg.Artifacts)
	if err != nil {
		_ = subStore.Close()
		_ = queue.Close()
		return err
	}

	service := submission.NewService(subStore, queue, artifacts, cfg.Submissions.MaxRetries)
	defer func() {
		if err := service.Close(); err != nil {
			log.Warn("关闭提交服务失败", slog.Any("error", err))
		}
	}()

	processor := submission.NewProcessor(board, subStore, artifacts, queue, queue,
		submission.WithWorkerCount(cfg.Queue.Workers),
		submission.WithProcessorLogger(logger.Named("processor")),
		submission.WithAlertDispatcher(newAlertRouter(cfg.Alerts)),
	)

	server := api.NewServer(cfg.Server.Address, service, board,
		api.WithDefaultDifficulty(cfg.Engine.DefaultDifficulty),
		api.WithMetricsEndpoint(cfg.Metrics.Address == ""),
	)

	log.Info("detrisd 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("leaderboard", cfg.Leaderboard.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("artifacts", cfg.Artifacts.Driver),
		slog.Int("workers", cfg.Queue.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("detrisd 已停止")
	return nil
}

func openLeaderboardStore(pool *dbPool, cfg config.StoreConfig) (leaderboard.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return leaderboard.NewMemoryStore(), nil
	case config.DriverMySQL, config.DriverSQLite:
		db, err := pool.open(cfg)
		if err != nil {
			return nil, err
		}
		return leaderboard.NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("未知的排行榜驱动: %s", cfg.Driver)
	}
}

func openSubmissionStore(pool *dbPool, cfg config.StoreConfig) (submission.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return submission.NewMemoryStore(), nil
	case config.DriverMySQL, config.DriverSQLite:
		db, err := pool.open(cfg)
		if err != nil {
			return nil, err
		}
		return submission.NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("未知的提交存储驱动: %s", cfg.Driver)
	}
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (submission.Queue, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return submission.NewMemoryQueue(cfg.Size), nil
	case config.DriverRedis:
		return submission.NewRedisQueue(ctx, cfg.Redis)
	case config.DriverRabbitMQ:
		return submission.NewRabbitMQQueue(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func openArtifacts(cfg config.ArtifactsConfig) (storage.ArtifactStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil
	case config.DriverBadger:
		return storage.OpenBadgerStore(cfg.Badger)
	default:
		return nil, fmt.Errorf("未知的证明存储驱动: %s", cfg.Driver)
	}
}

func newAlertRouter(cfg config.AlertsConfig) *alerting.Router {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL})
	}
	return alerting.NewRouter(notifiers,
		alerting.WithMinSeverity(xerrors.Severity(cfg.MinSeverity)),
		alerting.WithSuppressWindow(cfg.Suppress),
	)
}
