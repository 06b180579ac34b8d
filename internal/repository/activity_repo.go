package repository

import (
	"context"
	"errors"
	"time"

	"redpacket/internal/model"

	"gorm.io/gorm"
)

type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// ActivityFilter 后台列表筛选条件
type ActivityFilter struct {
	Status   string
	Name     string
	Page     int
	PageSize int
}

func (r *ActivityRepository) Create(ctx context.Context, tx *gorm.DB, activity *model.RedPacketActivity) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(activity).Error
}

func (r *ActivityRepository) GetByID(ctx context.Context, id int64) (*model.RedPacketActivity, error) {
	var activity model.RedPacketActivity
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&activity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}
	return &activity, nil
}

func (r *ActivityRepository) List(ctx context.Context, filter ActivityFilter) ([]*model.RedPacketActivity, int64, error) {
	var activities []*model.RedPacketActivity
	var total int64

	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	query := r.db.WithContext(ctx).Model(&model.RedPacketActivity{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Name != "" {
		query = query.Where("name LIKE ?", "%"+filter.Name+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&activities).Error

	return activities, total, err
}

// ListOngoing 用户端展示：进行中且在时间窗口内的活动
func (r *ActivityRepository) ListOngoing(ctx context.Context, now time.Time, page, pageSize int) ([]*model.RedPacketActivity, int64, error) {
	var activities []*model.RedPacketActivity
	var total int64

	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).
		Model(&model.RedPacketActivity{}).
		Where("status = ? AND start_time <= ? AND end_time > ?", model.ActivityStatusActive, now, now)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("end_time ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&activities).Error

	return activities, total, err
}

// GetDueToStart 到达开始时间但仍处于 PENDING 的活动
func (r *ActivityRepository) GetDueToStart(ctx context.Context, now time.Time, limit int) ([]*model.RedPacketActivity, error) {
	var activities []*model.RedPacketActivity
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time <= ?", model.ActivityStatusPending, now).
		Order("start_time ASC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// GetDueToEnd 到达结束时间但仍处于 ACTIVE 的活动
func (r *ActivityRepository) GetDueToEnd(ctx context.Context, now time.Time, limit int) ([]*model.RedPacketActivity, error) {
	var activities []*model.RedPacketActivity
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", model.ActivityStatusActive, now).
		Order("end_time ASC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// GetSoldOut 已抢完但还未结束的活动
func (r *ActivityRepository) GetSoldOut(ctx context.Context, limit int) ([]*model.RedPacketActivity, error) {
	var activities []*model.RedPacketActivity
	err := r.db.WithContext(ctx).
		Where("status = ? AND grabbed_count >= total_count", model.ActivityStatusActive).
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// GetActiveInWindow 处于窗口内的 ACTIVE 活动，用于检查缓存池是否丢失
func (r *ActivityRepository) GetActiveInWindow(ctx context.Context, now time.Time, limit int) ([]*model.RedPacketActivity, error) {
	var activities []*model.RedPacketActivity
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time <= ? AND end_time > ?", model.ActivityStatusActive, now, now).
		Order("id ASC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// GetForStatsRepair 进行中以及 since 之后结束的活动
func (r *ActivityRepository) GetForStatsRepair(ctx context.Context, since time.Time, limit int) ([]*model.RedPacketActivity, error) {
	var activities []*model.RedPacketActivity
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND end_time >= ?)", model.ActivityStatusActive, model.ActivityStatusEnded, since).
		Order("id ASC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// UpdateStatus 条件更新活动状态，只有当前状态为 fromStatus 时才会生效
func (r *ActivityRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.RedPacketActivity{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}

	return nil
}

// IncrementGrabbed 抢到红包后累加统计，grabbed_count 不会超过 total_count
func (r *ActivityRepository) IncrementGrabbed(ctx context.Context, tx *gorm.DB, id int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RedPacketActivity{}).
		Where("id = ? AND grabbed_count < total_count", id).
		Updates(map[string]interface{}{
			"grabbed_count":  gorm.Expr("grabbed_count + 1"),
			"grabbed_amount": gorm.Expr("grabbed_amount + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}

	return nil
}

// RepairStats 用记录表的真实值修正统计，只会调大不会调小
func (r *ActivityRepository) RepairStats(ctx context.Context, id int64, count int, amount int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.RedPacketActivity{}).
		Where("id = ? AND (grabbed_count < ? OR grabbed_amount < ?)", id, count, amount).
		Updates(map[string]interface{}{
			"grabbed_count":  gorm.Expr("CASE WHEN grabbed_count < ? THEN ? ELSE grabbed_count END", count, count),
			"grabbed_amount": gorm.Expr("CASE WHEN grabbed_amount < ? THEN ? ELSE grabbed_amount END", amount, amount),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}
