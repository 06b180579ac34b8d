package job

import (
	"context"
	"errors"

	"redpacket/internal/config"
	"redpacket/internal/service"
	"redpacket/pkg/logger"
	"redpacket/pkg/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const lifecycleJobName = "activity_lifecycle"

// LifecycleSummary 一轮生命周期推进的结果
type LifecycleSummary struct {
	Started service.BatchResult `json:"started"`
	Ended   service.BatchResult `json:"ended"`
	SoldOut service.BatchResult `json:"sold_out"`
	Healed  service.BatchResult `json:"healed"`
}

// ActivityLifecycleJob 按时间推进活动状态
// 顺序固定为 开始 -> 结束 -> 抢完提前结束 -> 补齐缓存池，已过结束时间的 PENDING 活动在同一轮内被结束
type ActivityLifecycleJob struct {
	*ticker
	activities *service.ActivityService
	guard      *runGuard
	batchSize  int
	endSoldOut bool
}

// NewActivityLifecycleJob client 为 nil 时只做进程内互斥
func NewActivityLifecycleJob(activities *service.ActivityService, client *redis.Client, cfg *config.Config) *ActivityLifecycleJob {
	return &ActivityLifecycleJob{
		ticker:     newTicker(lifecycleJobName, cfg.RedPacket.LifecycleInterval),
		activities: activities,
		guard:      newRunGuard(lifecycleJobName, client, cfg.RedPacket.JobLockTTL),
		batchSize:  cfg.RedPacket.LifecycleBatchSize,
		endSoldOut: cfg.RedPacket.EndWhenSoldOut,
	}
}

func (j *ActivityLifecycleJob) Start(ctx context.Context) {
	j.loop(ctx, func(ctx context.Context) {
		if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			logger.WithJob(lifecycleJobName).WithError(err).Error("生命周期推进失败")
		}
	})
}

// RunOnce 执行一轮，单个阶段失败不影响后续阶段
func (j *ActivityLifecycleJob) RunOnce(ctx context.Context) (*LifecycleSummary, error) {
	summary := &LifecycleSummary{}

	err := j.guard.run(ctx, func(ctx context.Context) error {
		var errs []error
		var err error

		if summary.Started, err = j.activities.StartDue(ctx, j.batchSize); err != nil {
			errs = append(errs, err)
		}
		if summary.Ended, err = j.activities.EndDue(ctx, j.batchSize); err != nil {
			errs = append(errs, err)
		}
		if j.endSoldOut {
			if summary.SoldOut, err = j.activities.EndSoldOut(ctx, j.batchSize); err != nil {
				errs = append(errs, err)
			}
		}
		if summary.Healed, err = j.activities.HealPools(ctx, j.batchSize); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	recordRun(lifecycleJobName, err)
	if err != nil {
		return summary, err
	}

	if summary.Started.Processed+summary.Ended.Processed+summary.SoldOut.Processed+summary.Healed.Processed > 0 {
		logger.WithJob(lifecycleJobName).WithFields(logrus.Fields{
			"started":  summary.Started.Processed,
			"ended":    summary.Ended.Processed,
			"sold_out": summary.SoldOut.Processed,
			"healed":   summary.Healed.Processed,
		}).Info("活动状态已推进")
	}
	return summary, nil
}

func recordRun(job string, err error) {
	switch {
	case err == nil:
		metrics.JobRuns.WithLabelValues(job, "ok").Inc()
	case errors.Is(err, ErrAlreadyRunning):
		metrics.JobRuns.WithLabelValues(job, "skipped").Inc()
	default:
		metrics.JobRuns.WithLabelValues(job, "error").Inc()
	}
}
