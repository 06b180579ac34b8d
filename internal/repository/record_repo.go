package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"redpacket/internal/model"

	"gorm.io/gorm"
)

const maxSettleErrorLen = 500

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// RecordStats 活动维度的领取统计
type RecordStats struct {
	Count       int64 `json:"count"`
	TotalAmount int64 `json:"total_amount"`
	MaxAmount   int64 `json:"max_amount"`
	MinAmount   int64 `json:"min_amount"`
}

// UserStats 用户维度的领取统计
type UserStats struct {
	Count         int64 `json:"count"`
	TotalAmount   int64 `json:"total_amount"`
	MaxAmount     int64 `json:"max_amount"`
	PendingCount  int64 `json:"pending_count"`
	PendingAmount int64 `json:"pending_amount"`
}

// Create 写入抢红包记录，唯一键冲突统一返回 ErrDuplicateRecord
func (r *RecordRepository) Create(ctx context.Context, tx *gorm.DB, record *model.RedPacketRecord) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(record).Error
	if err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateRecord, err)
		}
		return err
	}
	return nil
}

func (r *RecordRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.RedPacketRecord, error) {
	var record model.RedPacketRecord
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetByActivityAndUser 不存在时返回 nil, nil
func (r *RecordRepository) GetByActivityAndUser(ctx context.Context, activityID, userID int64) (*model.RedPacketRecord, error) {
	var record model.RedPacketRecord
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND user_id = ?", activityID, userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *RecordRepository) ExistsForUser(ctx context.Context, activityID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RedPacketRecord{}).
		Where("activity_id = ? AND user_id = ?", activityID, userID).
		Count(&count).Error
	return count > 0, err
}

// GrabbedActivityIDs 返回用户在给定活动中已经抢过的活动ID集合
func (r *RecordRepository) GrabbedActivityIDs(ctx context.Context, userID int64, activityIDs []int64) (map[int64]bool, error) {
	grabbed := make(map[int64]bool, len(activityIDs))
	if len(activityIDs) == 0 {
		return grabbed, nil
	}

	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.RedPacketRecord{}).
		Where("user_id = ? AND activity_id IN ?", userID, activityIDs).
		Pluck("activity_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		grabbed[id] = true
	}
	return grabbed, nil
}

// GetPending 待入账记录，失败次数少的优先，同次数按 id 顺序
// 一直入账失败的记录会排到后面，不会占满每一批
func (r *RecordRepository) GetPending(ctx context.Context, limit int) ([]*model.RedPacketRecord, error) {
	var records []*model.RedPacketRecord
	err := r.db.WithContext(ctx).
		Where("account_updated = ?", model.AccountUpdatedPending).
		Order("settle_attempts ASC").
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// MarkApplied PENDING -> APPLIED，已经是 APPLIED 时返回 false
func (r *RecordRepository) MarkApplied(ctx context.Context, tx *gorm.DB, id int64, settledAt time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RedPacketRecord{}).
		Where("id = ? AND account_updated = ?", id, model.AccountUpdatedPending).
		Updates(map[string]interface{}{
			"account_updated":   model.AccountUpdatedApplied,
			"settled_at":        settledAt,
			"settle_attempts":   gorm.Expr("settle_attempts + 1"),
			"last_settle_error": "",
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkSettleFailed 记录一次失败的入账尝试，状态保持 PENDING
func (r *RecordRepository) MarkSettleFailed(ctx context.Context, id int64, reason string) error {
	if len(reason) > maxSettleErrorLen {
		reason = reason[:maxSettleErrorLen]
	}
	return r.db.WithContext(ctx).
		Model(&model.RedPacketRecord{}).
		Where("id = ? AND account_updated = ?", id, model.AccountUpdatedPending).
		Updates(map[string]interface{}{
			"settle_attempts":   gorm.Expr("settle_attempts + 1"),
			"last_settle_error": reason,
		}).Error
}

func (r *RecordRepository) ListByActivity(ctx context.Context, activityID int64, page, pageSize int) ([]*model.RedPacketRecord, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&model.RedPacketRecord{}).Where("activity_id = ?", activityID), page, pageSize)
}

func (r *RecordRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.RedPacketRecord, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&model.RedPacketRecord{}).Where("user_id = ?", userID), page, pageSize)
}

func (r *RecordRepository) list(ctx context.Context, query *gorm.DB, page, pageSize int) ([]*model.RedPacketRecord, int64, error) {
	var records []*model.RedPacketRecord
	var total int64

	page, pageSize = normalizePage(page, pageSize)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("claim_time DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

// GetLuckiest 手气最佳：金额最大，金额相同取 packet_index 最小的。没有记录时返回 nil, nil
func (r *RecordRepository) GetLuckiest(ctx context.Context, activityID int64) (*model.RedPacketRecord, error) {
	var record model.RedPacketRecord
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("amount DESC, packet_index ASC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *RecordRepository) ActivityStats(ctx context.Context, activityID int64) (*RecordStats, error) {
	var stats RecordStats
	err := r.db.WithContext(ctx).
		Model(&model.RedPacketRecord{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total_amount, COALESCE(MAX(amount), 0) AS max_amount, COALESCE(MIN(amount), 0) AS min_amount").
		Where("activity_id = ?", activityID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *RecordRepository) UserStats(ctx context.Context, userID int64) (*UserStats, error) {
	var stats UserStats
	err := r.db.WithContext(ctx).
		Model(&model.RedPacketRecord{}).
		Select(
			"COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total_amount, COALESCE(MAX(amount), 0) AS max_amount, "+
				"COALESCE(SUM(CASE WHEN account_updated = ? THEN 1 ELSE 0 END), 0) AS pending_count, "+
				"COALESCE(SUM(CASE WHEN account_updated = ? THEN amount ELSE 0 END), 0) AS pending_amount",
			model.AccountUpdatedPending, model.AccountUpdatedPending,
		).
		Where("user_id = ?", userID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
