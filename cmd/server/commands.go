package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"redpacket/internal/handler"
	"redpacket/internal/infrastructure/database"
	"redpacket/internal/infrastructure/mq"
	"redpacket/internal/job"
	"redpacket/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "启动 HTTP 服务和后台任务",
		Action: func(c *cli.Context) error {
			d, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer d.Close()

			producer, err := mq.NewKafkaProducer(&d.cfg.Kafka)
			if err != nil {
				return err
			}
			defer producer.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lifecycleJob := job.NewActivityLifecycleJob(d.activities, d.redis, d.cfg)
			settlementJob := job.NewSettlementJob(d.settlement, d.redis, d.cfg)
			outboxSender := job.NewOutboxSender(d.db, producer, d.cfg)
			go lifecycleJob.Start(ctx)
			go settlementJob.Start(ctx)
			go outboxSender.Start(ctx)

			h := handler.NewHandler(d.activities, d.grab, d.accounts, settlementJob)
			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", d.cfg.Server.Port),
				Handler: handler.SetupRouter(h, d.cfg.Server.Mode),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.L().WithField("port", d.cfg.Server.Port).Info("服务启动")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.L().Info("正在关闭服务...")
			case err := <-errCh:
				stop()
				return fmt.Errorf("服务启动失败: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.L().WithError(err).Warn("服务关闭异常")
			}

			logger.L().Info("服务已关闭")
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "创建或更新表结构",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := database.InitMySQL(&cfg.MySQL)
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			logger.L().Info("表结构迁移完成")
			return nil
		},
	}
}

func settleCommand() *cli.Command {
	return &cli.Command{
		Name:  "settle",
		Usage: "执行一轮入账对账",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "本轮最多处理的记录数，0 表示使用配置"},
		},
		Action: func(c *cli.Context) error {
			d, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer d.Close()

			summary, err := job.NewSettlementJob(d.settlement, d.redis, d.cfg).RunOnce(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			logger.L().WithFields(logrus.Fields{
				"scanned":         summary.Settle.Scanned,
				"applied":         summary.Settle.Applied,
				"already_applied": summary.Settle.AlreadyApplied,
				"failed":          summary.Settle.Failed,
				"stats_repaired":  summary.Repair.Processed,
			}).Info("对账完成")
			return nil
		},
	}
}

func preloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "preload",
		Usage:     "把活动的可用红包加载到缓存池",
		ArgsUsage: "<activity-id>",
		Action: func(c *cli.Context) error {
			id, err := activityIDArg(c)
			if err != nil {
				return err
			}
			d, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer d.Close()

			n, err := d.activities.Preload(c.Context, id)
			if err != nil {
				return err
			}
			logger.L().WithActivity(id).WithField("available", n).Info("预热完成")
			return nil
		},
	}
}

func evictCommand() *cli.Command {
	return &cli.Command{
		Name:      "evict",
		Usage:     "清除活动的缓存池",
		ArgsUsage: "<activity-id>",
		Action: func(c *cli.Context) error {
			id, err := activityIDArg(c)
			if err != nil {
				return err
			}
			d, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.activities.Evict(c.Context, id); err != nil {
				return err
			}
			logger.L().WithActivity(id).Info("缓存池已清除")
			return nil
		},
	}
}
