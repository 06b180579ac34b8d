package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"redpacket/internal/allocator"
	"redpacket/internal/config"
	"redpacket/internal/infrastructure/cache"
	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateActivityRequest 创建活动参数，金额单位为分
type CreateActivityRequest struct {
	Name             string    `json:"name" validate:"required,max=128"`
	Description      string    `json:"description" validate:"max=512"`
	TotalAmount      int64     `json:"total_amount" validate:"gt=0"`
	TotalCount       int       `json:"total_count" validate:"gt=0,lte=100000"`
	MinAmount        int64     `json:"min_amount" validate:"gte=0"`
	MaxAmount        int64     `json:"max_amount" validate:"gte=0"`
	Algorithm        string    `json:"algorithm"`
	StartTime        time.Time `json:"start_time" validate:"required"`
	EndTime          time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	CreatorID        int64     `json:"creator_id" validate:"gte=0"`
	StartImmediately bool      `json:"start_immediately"`
}

type ActivityService struct {
	db           *gorm.DB
	activityRepo *repository.ActivityRepository
	packetRepo   *repository.PacketRepository
	recordRepo   *repository.RecordRepository
	pool         *cache.PacketPool
	cfg          *config.Config
	now          func() time.Time
}

func NewActivityService(db *gorm.DB, pool *cache.PacketPool, cfg *config.Config) *ActivityService {
	return &ActivityService{
		db:           db,
		activityRepo: repository.NewActivityRepository(db),
		packetRepo:   repository.NewPacketRepository(db),
		recordRepo:   repository.NewRecordRepository(db),
		pool:         pool,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (s *ActivityService) SetClock(now func() time.Time) {
	s.now = now
}

func activityLog(activity *model.RedPacketActivity) *logrus.Entry {
	return logger.L().WithActivity(activity.ID).WithField("status", activity.Status)
}

// CreateActivity 创建活动并一次性拆好全部红包
// 活动与红包明细在同一事务内写入，任何红包可被领取之前数量和金额就已确定
func (s *ActivityService) CreateActivity(ctx context.Context, req *CreateActivityRequest) (*model.RedPacketActivity, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	algo, err := allocator.ParseAlgorithm(req.Algorithm)
	if err != nil {
		return nil, &ValidationError{Field: "Algorithm", Message: err.Error()}
	}

	now := s.now()
	if !req.EndTime.After(now) {
		return nil, &ValidationError{Field: "EndTime", Message: "结束时间必须晚于当前时间"}
	}

	amounts, err := allocator.Allocate(allocator.Params{
		TotalAmount: req.TotalAmount,
		Count:       req.TotalCount,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
		Algorithm:   algo,
	})
	if err != nil {
		return nil, &ValidationError{Field: "TotalAmount", Message: err.Error()}
	}

	minAmount := req.MinAmount
	if minAmount == 0 {
		minAmount = 1
	}

	activity := &model.RedPacketActivity{
		Name:        req.Name,
		Description: req.Description,
		TotalAmount: req.TotalAmount,
		TotalCount:  req.TotalCount,
		MinAmount:   minAmount,
		MaxAmount:   req.MaxAmount,
		Algorithm:   algo.String(),
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Status:      model.ActivityStatusPending,
		CreatorID:   req.CreatorID,
	}
	if req.StartImmediately {
		activity.Status = model.ActivityStatusActive
		if activity.StartTime.After(now) {
			activity.StartTime = now
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.activityRepo.Create(ctx, tx, activity); err != nil {
			return fmt.Errorf("创建活动失败: %w", err)
		}

		packets := make([]*model.RedPacket, 0, len(amounts))
		for i, amount := range amounts {
			packets = append(packets, &model.RedPacket{
				ActivityID:  activity.ID,
				PacketIndex: i + 1,
				Amount:      amount,
				Status:      model.PacketStatusAvailable,
			})
		}
		if err := s.packetRepo.BatchCreate(ctx, tx, packets); err != nil {
			return fmt.Errorf("写入红包明细失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := activityLog(activity).WithFields(logrus.Fields{
		"total_amount": activity.TotalAmount,
		"total_count":  activity.TotalCount,
		"algorithm":    activity.Algorithm,
	})
	log.Info("红包活动创建成功")

	if activity.Status == model.ActivityStatusActive {
		if _, err := s.preload(ctx, activity); err != nil {
			log.WithError(err).Warn("活动预热失败，等待定时任务重试")
		}
	}

	return activity, nil
}

// StartActivity 立即开始：PENDING -> ACTIVE，开始时间提前到当前时间
func (s *ActivityService) StartActivity(ctx context.Context, id int64) (*model.RedPacketActivity, error) {
	activity, err := s.activityRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity.Status != model.ActivityStatusPending {
		return nil, conflictError("活动当前状态为 %s，不能开始", activity.Status)
	}

	now := s.now()
	if !activity.EndTime.After(now) {
		return nil, conflictError("活动已过结束时间")
	}

	extra := map[string]interface{}{}
	if activity.StartTime.After(now) {
		extra["start_time"] = now
	}
	if err := s.activityRepo.UpdateStatus(ctx, nil, id, model.ActivityStatusPending, model.ActivityStatusActive, extra); err != nil {
		return nil, err
	}
	activity.Status = model.ActivityStatusActive
	if activity.StartTime.After(now) {
		activity.StartTime = now
	}

	if _, err := s.preload(ctx, activity); err != nil {
		activityLog(activity).WithError(err).Warn("活动预热失败，等待定时任务重试")
	}
	activityLog(activity).Info("活动已手动开始")
	return activity, nil
}

// EndActivity 立即结束：ACTIVE -> ENDED，结束时间提前到当前时间
func (s *ActivityService) EndActivity(ctx context.Context, id int64) (*model.RedPacketActivity, error) {
	activity, err := s.activityRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity.Status != model.ActivityStatusActive {
		return nil, conflictError("活动当前状态为 %s，不能结束", activity.Status)
	}
	if err := s.end(ctx, activity); err != nil {
		return nil, err
	}
	activityLog(activity).Info("活动已手动结束")
	return activity, nil
}

// CancelActivity 取消活动，PENDING 与 ACTIVE 均可取消
func (s *ActivityService) CancelActivity(ctx context.Context, id int64) (*model.RedPacketActivity, error) {
	activity, err := s.activityRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransitionTo(activity.Status, model.ActivityStatusCancelled) {
		return nil, conflictError("活动当前状态为 %s，不能取消", activity.Status)
	}

	if err := s.activityRepo.UpdateStatus(ctx, nil, id, activity.Status, model.ActivityStatusCancelled, nil); err != nil {
		return nil, err
	}
	activity.Status = model.ActivityStatusCancelled

	if err := s.pool.Evict(ctx, id); err != nil {
		activityLog(activity).WithError(err).Warn("清除红包池失败")
	}
	activityLog(activity).Info("活动已取消")
	return activity, nil
}

// Preload 手动预热，只允许 ACTIVE 活动
func (s *ActivityService) Preload(ctx context.Context, id int64) (int, error) {
	activity, err := s.activityRepo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if activity.Status != model.ActivityStatusActive {
		return 0, conflictError("活动当前状态为 %s，不能预热", activity.Status)
	}
	return s.preload(ctx, activity)
}

// Evict 手动清除红包池
func (s *ActivityService) Evict(ctx context.Context, id int64) error {
	if _, err := s.activityRepo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.pool.Evict(ctx, id)
}

func (s *ActivityService) end(ctx context.Context, activity *model.RedPacketActivity) error {
	now := s.now()
	extra := map[string]interface{}{}
	if activity.EndTime.After(now) {
		extra["end_time"] = now
	}
	if err := s.activityRepo.UpdateStatus(ctx, nil, activity.ID, model.ActivityStatusActive, model.ActivityStatusEnded, extra); err != nil {
		return err
	}
	activity.Status = model.ActivityStatusEnded
	if activity.EndTime.After(now) {
		activity.EndTime = now
	}

	if err := s.pool.Evict(ctx, activity.ID); err != nil {
		activityLog(activity).WithError(err).Warn("清除红包池失败")
	}
	return nil
}

// preload 把可用红包ID写入缓存池，过期时间覆盖到活动结束之后
func (s *ActivityService) preload(ctx context.Context, activity *model.RedPacketActivity) (int, error) {
	ids, err := s.packetRepo.ListAvailableIDs(ctx, activity.ID)
	if err != nil {
		return 0, fmt.Errorf("查询可用红包失败: %w", err)
	}

	ttl := activity.EndTime.Sub(s.now()) + s.cfg.RedPacket.PoolTTLGrace
	if err := s.pool.Preload(ctx, activity.ID, ids, ttl); err != nil {
		return 0, err
	}

	activityLog(activity).WithField("available", len(ids)).Info("红包池预热完成")
	return len(ids), nil
}

func isConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
