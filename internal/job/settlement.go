package job

import (
	"context"
	"errors"

	"redpacket/internal/config"
	"redpacket/internal/service"
	"redpacket/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const settlementJobName = "settlement"

type SettlementSummary struct {
	Settle *service.SettleSummary `json:"settle"`
	Repair service.BatchResult    `json:"repair"`
}

// SettlementJob 定期把待入账记录入账，并修正活动统计
type SettlementJob struct {
	*ticker
	settlement *service.SettlementService
	guard      *runGuard
	batchSize  int
}

func NewSettlementJob(settlement *service.SettlementService, client *redis.Client, cfg *config.Config) *SettlementJob {
	return &SettlementJob{
		ticker:     newTicker(settlementJobName, cfg.RedPacket.SettlementInterval),
		settlement: settlement,
		guard:      newRunGuard(settlementJobName, client, cfg.RedPacket.JobLockTTL),
		batchSize:  cfg.RedPacket.SettlementBatch,
	}
}

func (j *SettlementJob) Start(ctx context.Context) {
	j.loop(ctx, func(ctx context.Context) {
		if _, err := j.RunOnce(ctx, 0); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			logger.WithJob(settlementJobName).WithError(err).Error("对账任务执行失败")
		}
	})
}

// RunOnce 入账一批，limit<=0 使用配置的批量大小
// 手动触发与定时任务共用同一把锁
func (j *SettlementJob) RunOnce(ctx context.Context, limit int) (*SettlementSummary, error) {
	if limit <= 0 {
		limit = j.batchSize
	}
	summary := &SettlementSummary{}

	err := j.guard.run(ctx, func(ctx context.Context) error {
		settle, err := j.settlement.SettlePending(ctx, limit)
		summary.Settle = settle
		if err != nil {
			return err
		}
		summary.Repair, err = j.settlement.RepairStats(ctx, limit)
		return err
	})

	recordRun(settlementJobName, err)
	if err != nil {
		return summary, err
	}

	if s := summary.Settle; s != nil && s.Scanned > 0 {
		logger.WithJob(settlementJobName).WithFields(logrus.Fields{
			"scanned":         s.Scanned,
			"applied":         s.Applied,
			"already_applied": s.AlreadyApplied,
			"failed":          s.Failed,
			"stats_repaired":  summary.Repair.Processed,
		}).Info("对账完成")
	}
	return summary, nil
}
