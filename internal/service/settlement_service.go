package service

import (
	"context"
	"encoding/json"
	"time"

	"redpacket/internal/config"
	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/pkg/logger"
	"redpacket/pkg/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SettleSummary 一次对账的结果
type SettleSummary struct {
	Scanned        int `json:"scanned"`
	Applied        int `json:"applied"`
	AlreadyApplied int `json:"already_applied"`
	Failed         int `json:"failed"`
}

// SettlementService 把 PENDING 记录入账到用户账户
// 入账至少一次，依赖 Crediter 按 transaction_no 幂等，重复执行不会重复加钱
type SettlementService struct {
	db           *gorm.DB
	recordRepo   *repository.RecordRepository
	activityRepo *repository.ActivityRepository
	outboxRepo   *repository.OutboxRepository
	crediter     Crediter
	cfg          *config.Config
	now          func() time.Time
}

func NewSettlementService(db *gorm.DB, crediter Crediter, cfg *config.Config) *SettlementService {
	return &SettlementService{
		db:           db,
		recordRepo:   repository.NewRecordRepository(db),
		activityRepo: repository.NewActivityRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		crediter:     crediter,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (s *SettlementService) SetClock(now func() time.Time) {
	s.now = now
}

// SettlePending 处理一批待入账记录，单条失败只记录原因，继续处理其余记录
func (s *SettlementService) SettlePending(ctx context.Context, limit int) (*SettleSummary, error) {
	if limit <= 0 {
		limit = s.cfg.RedPacket.SettlementBatch
	}

	records, err := s.recordRepo.GetPending(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &SettleSummary{Scanned: len(records)}
	for _, record := range records {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		log := logger.L().WithFields(logrus.Fields{
			"record_id":      record.ID,
			"user_id":        record.UserID,
			"transaction_no": record.TransactionNo,
		})

		status, err := s.crediter.Credit(ctx, record.UserID, record.Amount, record.TransactionNo)
		if err != nil {
			summary.Failed++
			metrics.SettledRecords.WithLabelValues("failed").Inc()
			log.WithError(err).Error("红包入账失败，等待下次重试")
			if markErr := s.recordRepo.MarkSettleFailed(ctx, record.ID, err.Error()); markErr != nil {
				log.WithError(markErr).Error("记录入账失败原因失败")
			}
			continue
		}

		if err := s.markApplied(ctx, record, status); err != nil {
			// 账户已经入账，下次重试时 Crediter 会返回 ALREADY_APPLIED
			summary.Failed++
			metrics.SettledRecords.WithLabelValues("failed").Inc()
			log.WithError(err).Error("更新入账状态失败")
			continue
		}

		if status == CreditAlreadyApplied {
			summary.AlreadyApplied++
			metrics.SettledRecords.WithLabelValues("already_applied").Inc()
		} else {
			summary.Applied++
			metrics.SettledRecords.WithLabelValues("applied").Inc()
		}
	}

	return summary, nil
}

func (s *SettlementService) markApplied(ctx context.Context, record *model.RedPacketRecord, status CreditStatus) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.recordRepo.MarkApplied(ctx, tx, record.ID, now)
		if err != nil {
			return err
		}
		if !updated {
			return nil
		}

		payload, err := json.Marshal(map[string]interface{}{
			"transaction_no": record.TransactionNo,
			"activity_id":    record.ActivityID,
			"user_id":        record.UserID,
			"amount":         record.Amount,
			"credit_status":  status,
			"settled_at":     now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
			MessageKey: record.TransactionNo,
			EventType:  model.EventRecordSettled,
			Topic:      s.cfg.Kafka.Topic.SettlementResult,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		})
	})
}

// RepairStats 用记录表重算活动统计，只会调大
func (s *SettlementService) RepairStats(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult

	since := s.now().Add(-s.cfg.RedPacket.StatsLookback)
	activities, err := s.activityRepo.GetForStatsRepair(ctx, since, limit)
	if err != nil {
		return result, err
	}

	for _, activity := range activities {
		stats, err := s.recordRepo.ActivityStats(ctx, activity.ID)
		if err != nil {
			result.Failed++
			activityLog(activity).WithError(err).Error("统计抢红包记录失败")
			continue
		}
		repaired, err := s.activityRepo.RepairStats(ctx, activity.ID, int(stats.Count), stats.TotalAmount)
		if err != nil {
			result.Failed++
			activityLog(activity).WithError(err).Error("修正活动统计失败")
			continue
		}
		if !repaired {
			result.Skipped++
			continue
		}
		result.Processed++
		activityLog(activity).WithFields(logrus.Fields{
			"grabbed_count":  stats.Count,
			"grabbed_amount": stats.TotalAmount,
		}).Warn("活动统计与记录不一致，已修正")
	}

	return result, nil
}
