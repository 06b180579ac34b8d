package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"redpacket/internal/config"
	"redpacket/internal/infrastructure/cache"
	"redpacket/internal/model"
	"redpacket/internal/repository"
	"redpacket/pkg/idgen"
	"redpacket/pkg/logger"
	"redpacket/pkg/metrics"
	"redpacket/pkg/money"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// compensateTimeout 放回红包、释放占位等补偿操作的超时
const compensateTimeout = 2 * time.Second

// GrabCode 抢红包结果码
type GrabCode string

const (
	GrabSuccess          GrabCode = "SUCCESS"
	GrabActivityNotFound GrabCode = "ACTIVITY_NOT_FOUND"
	GrabNotStarted       GrabCode = "NOT_STARTED"
	GrabEnded            GrabCode = "ENDED"
	GrabCancelled        GrabCode = "CANCELLED"
	GrabAlreadyGrabbed   GrabCode = "ALREADY_GRABBED"
	GrabNoPacketLeft     GrabCode = "NO_PACKET_LEFT"
	GrabRateLimited      GrabCode = "RATE_LIMITED"
	GrabSystemBusy       GrabCode = "SYSTEM_BUSY"
)

var grabMessages = map[GrabCode]string{
	GrabSuccess:          "恭喜抢到红包",
	GrabActivityNotFound: "活动不存在",
	GrabNotStarted:       "活动未开始",
	GrabEnded:            "活动已结束",
	GrabCancelled:        "活动已取消",
	GrabAlreadyGrabbed:   "您已经抢过这个红包了",
	GrabNoPacketLeft:     "红包已抢完",
	GrabRateLimited:      "请求过于频繁，请稍后再试",
	GrabSystemBusy:       "系统繁忙，请稍后再试",
}

func (c GrabCode) Message() string {
	return grabMessages[c]
}

// GrabResult 抢红包结果
// 业务失败（未开始、已抢过、抢完等）通过 Code 返回，error 只用于基础设施故障
type GrabResult struct {
	Code            GrabCode   `json:"code"`
	Message         string     `json:"message"`
	ActivityID      int64      `json:"activity_id"`
	Amount          int64      `json:"amount,omitempty"`
	AmountYuan      string     `json:"amount_yuan,omitempty"`
	TransactionNo   string     `json:"transaction_no,omitempty"`
	PacketIndex     int        `json:"packet_index,omitempty"`
	ClaimTime       *time.Time `json:"claim_time,omitempty"`
	RemainingCount  int        `json:"remaining_count"`
	RemainingAmount int64      `json:"remaining_amount"`
}

func (r *GrabResult) Success() bool {
	return r.Code == GrabSuccess
}

// Admission 准入控制，内部故障时应自行放行
type Admission interface {
	AllowGrab(ctx context.Context, activityID, userID int64) bool
}

type GrabService struct {
	db           *gorm.DB
	activityRepo *repository.ActivityRepository
	packetRepo   *repository.PacketRepository
	recordRepo   *repository.RecordRepository
	outboxRepo   *repository.OutboxRepository
	pool         *cache.PacketPool
	admission    Admission
	cfg          *config.Config
	now          func() time.Time
}

// NewGrabService admission 为 nil 时不做限流
func NewGrabService(db *gorm.DB, pool *cache.PacketPool, admission Admission, cfg *config.Config) *GrabService {
	return &GrabService{
		db:           db,
		activityRepo: repository.NewActivityRepository(db),
		packetRepo:   repository.NewPacketRepository(db),
		recordRepo:   repository.NewRecordRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		pool:         pool,
		admission:    admission,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (s *GrabService) SetClock(now func() time.Time) {
	s.now = now
}

// checkWindow 状态与时间窗口校验，通过时返回空字符串
func checkWindow(activity *model.RedPacketActivity, now time.Time) GrabCode {
	switch activity.Status {
	case model.ActivityStatusCancelled:
		return GrabCancelled
	case model.ActivityStatusEnded:
		return GrabEnded
	case model.ActivityStatusPending:
		return GrabNotStarted
	}
	if now.Before(activity.StartTime) {
		return GrabNotStarted
	}
	if !now.Before(activity.EndTime) {
		return GrabEnded
	}
	return ""
}

func newGrabResult(code GrabCode, activity *model.RedPacketActivity) *GrabResult {
	res := &GrabResult{Code: code, Message: code.Message()}
	if activity != nil {
		res.ActivityID = activity.ID
		res.RemainingCount = activity.RemainingCount()
		res.RemainingAmount = activity.RemainingAmount()
	}
	return res
}

// Grab 抢红包
//
//  1. 准入控制
//  2. 状态与时间窗口校验
//  3. 用户占位，已占位视为已抢过
//  4. 从缓存池取红包ID
//  5. 同一事务内 CAS 更新红包并写入记录，唯一键冲突时整体回滚并放回红包
//  6. 累加活动统计（尽力而为，由对账任务修正）
func (s *GrabService) Grab(ctx context.Context, activityID, userID int64) (res *GrabResult, err error) {
	start := time.Now()
	defer func() {
		metrics.GrabDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.GrabTotal.WithLabelValues("ERROR").Inc()
			return
		}
		metrics.GrabTotal.WithLabelValues(string(res.Code)).Inc()
	}()

	log := logger.L().WithFields(logrus.Fields{"activity_id": activityID, "user_id": userID})

	if s.admission != nil && !s.admission.AllowGrab(ctx, activityID, userID) {
		return &GrabResult{Code: GrabRateLimited, Message: GrabRateLimited.Message(), ActivityID: activityID}, nil
	}

	activity, err := s.activityRepo.GetByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, repository.ErrActivityNotFound) {
			return &GrabResult{Code: GrabActivityNotFound, Message: GrabActivityNotFound.Message(), ActivityID: activityID}, nil
		}
		return nil, fmt.Errorf("查询活动失败: %w", err)
	}

	now := s.now()
	if code := checkWindow(activity, now); code != "" {
		return newGrabResult(code, activity), nil
	}

	ttl := activity.EndTime.Sub(now) + s.cfg.RedPacket.PoolTTLGrace
	reserved, err := s.pool.Reserve(ctx, activityID, userID, ttl)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return newGrabResult(GrabAlreadyGrabbed, activity), nil
	}

	// 除了成功和数据库确认已抢过，其余情况都释放占位
	keepReservation := false
	defer func() {
		if keepReservation {
			return
		}
		relCtx, cancel := detached(ctx)
		defer cancel()
		if relErr := s.pool.Release(relCtx, activityID, userID); relErr != nil {
			log.WithError(relErr).Warn("释放用户占位失败")
		}
	}()

	maxRetries := s.cfg.RedPacket.GrabMaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		packetID, err := s.pool.TakeOne(ctx, activityID)
		switch {
		case errors.Is(err, cache.ErrPoolNotReady):
			res := newGrabResult(GrabSystemBusy, activity)
			res.Message = "活动尚未就绪，请稍后再试"
			return res, nil
		case errors.Is(err, cache.ErrPoolEmpty):
			return newGrabResult(GrabNoPacketLeft, activity), nil
		case err != nil:
			return nil, err
		}

		record, err := s.claim(ctx, activity, packetID, userID, now)
		if err == nil {
			keepReservation = true
			s.afterClaim(ctx, activity, record, log)

			claimTime := record.ClaimTime
			res := newGrabResult(GrabSuccess, activity)
			res.Amount = record.Amount
			res.AmountYuan = money.Yuan(record.Amount)
			res.TransactionNo = record.TransactionNo
			res.PacketIndex = record.PacketIndex
			res.ClaimTime = &claimTime
			res.RemainingCount = clampInt(activity.RemainingCount() - 1)
			res.RemainingAmount = clampInt64(activity.RemainingAmount() - record.Amount)
			return res, nil
		}

		switch {
		case errors.Is(err, repository.ErrPacketAlreadyClaimed), errors.Is(err, repository.ErrPacketNotFound):
			// 缓存与数据库不一致，换一个红包重试
			metrics.GrabCASConflicts.Inc()
			log.WithField("packet_id", packetID).Warn("红包条件更新未命中，重试")
			s.dropStale(ctx, activityID, packetID, log)
			continue

		case errors.Is(err, repository.ErrDuplicateRecord):
			// 事务已回滚，红包仍为 AVAILABLE
			exists, existsErr := s.recordRepo.ExistsForUser(ctx, activityID, userID)
			if existsErr != nil {
				s.pushBack(ctx, activityID, packetID, log)
				return nil, fmt.Errorf("查询抢红包记录失败: %w", existsErr)
			}
			if exists {
				s.pushBack(ctx, activityID, packetID, log)
				keepReservation = true
				return newGrabResult(GrabAlreadyGrabbed, activity), nil
			}
			// 冲突来自 packet_id，这个红包不能再发出去
			log.WithField("packet_id", packetID).Error("红包已存在领取记录但状态仍为可领取")
			s.dropStale(ctx, activityID, packetID, log)
			continue

		default:
			s.pushBack(ctx, activityID, packetID, log)
			return nil, err
		}
	}

	return newGrabResult(GrabSystemBusy, activity), nil
}

// claim 红包 CAS 更新、写记录、写 outbox 在同一个事务内
func (s *GrabService) claim(ctx context.Context, activity *model.RedPacketActivity, packetID, userID int64, now time.Time) (*model.RedPacketRecord, error) {
	var record *model.RedPacketRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.packetRepo.Claim(ctx, tx, packetID, activity.ID, userID, now); err != nil {
			return err
		}

		packet, err := s.packetRepo.GetByID(ctx, tx, packetID)
		if err != nil {
			return err
		}

		record = &model.RedPacketRecord{
			ActivityID:     activity.ID,
			UserID:         userID,
			PacketID:       packet.ID,
			PacketIndex:    packet.PacketIndex,
			Amount:         packet.Amount,
			TransactionNo:  idgen.GenerateTransactionNo(),
			ClaimTime:      now,
			AccountUpdated: model.AccountUpdatedPending,
		}
		if err := s.recordRepo.Create(ctx, tx, record); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{
			"transaction_no": record.TransactionNo,
			"activity_id":    record.ActivityID,
			"user_id":        record.UserID,
			"packet_id":      record.PacketID,
			"packet_index":   record.PacketIndex,
			"amount":         record.Amount,
			"claim_time":     now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
			MessageKey: record.TransactionNo,
			EventType:  model.EventGrabSucceeded,
			Topic:      s.cfg.Kafka.Topic.GrabResult,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *GrabService) afterClaim(ctx context.Context, activity *model.RedPacketActivity, record *model.RedPacketRecord, log *logrus.Entry) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.activityRepo.IncrementGrabbed(ctx, nil, activity.ID, record.Amount); err != nil {
		log.WithError(err).Warn("累加活动统计失败，等待对账修正")
	}
	log.WithFields(logrus.Fields{
		"packet_id":      record.PacketID,
		"amount":         record.Amount,
		"transaction_no": record.TransactionNo,
	}).Info("抢红包成功")
}

// detached 补偿操作不跟随请求取消，否则回滚后的红包回不到池里
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
}

func (s *GrabService) pushBack(ctx context.Context, activityID, packetID int64, log *logrus.Entry) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if _, err := s.pool.PushBack(ctx, activityID, packetID); err != nil {
		log.WithError(err).WithField("packet_id", packetID).Error("放回红包失败，等待重新预热")
	}
}

// dropStale 重复预热可能让同一个ID在池里出现多次，已确认不可领取的ID全部移除
func (s *GrabService) dropStale(ctx context.Context, activityID, packetID int64, log *logrus.Entry) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.pool.Remove(ctx, activityID, packetID); err != nil {
		log.WithError(err).WithField("packet_id", packetID).Warn("移除失效红包失败")
	}
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampInt64(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
