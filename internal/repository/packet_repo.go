package repository

import (
	"context"
	"errors"
	"time"

	"redpacket/internal/model"

	"gorm.io/gorm"
)

const packetInsertBatch = 500

type PacketRepository struct {
	db *gorm.DB
}

func NewPacketRepository(db *gorm.DB) *PacketRepository {
	return &PacketRepository{db: db}
}

func (r *PacketRepository) BatchCreate(ctx context.Context, tx *gorm.DB, packets []*model.RedPacket) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).CreateInBatches(packets, packetInsertBatch).Error
}

func (r *PacketRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.RedPacket, error) {
	if tx == nil {
		tx = r.db
	}
	var packet model.RedPacket
	err := tx.WithContext(ctx).Where("id = ?", id).First(&packet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPacketNotFound
		}
		return nil, err
	}
	return &packet, nil
}

// Claim 领取红包：AVAILABLE -> CLAIMED 的 CAS 更新
// 影响行数为 0 说明红包已被他人领取（或不属于该活动）
func (r *PacketRepository) Claim(ctx context.Context, tx *gorm.DB, packetID, activityID, userID int64, claimTime time.Time) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RedPacket{}).
		Where("id = ? AND activity_id = ? AND status = ?", packetID, activityID, model.PacketStatusAvailable).
		Updates(map[string]interface{}{
			"status":     model.PacketStatusClaimed,
			"user_id":    userID,
			"claim_time": claimTime,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPacketAlreadyClaimed
	}

	return nil
}

// ListAvailableIDs 预热缓存池用，按 packet_index 顺序返回
func (r *PacketRepository) ListAvailableIDs(ctx context.Context, activityID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.RedPacket{}).
		Where("activity_id = ? AND status = ?", activityID, model.PacketStatusAvailable).
		Order("packet_index ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *PacketRepository) ListByActivity(ctx context.Context, activityID int64, status string, page, pageSize int) ([]*model.RedPacket, int64, error) {
	var packets []*model.RedPacket
	var total int64

	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.RedPacket{}).Where("activity_id = ?", activityID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("packet_index ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&packets).Error

	return packets, total, err
}

// SumByActivity 校验用：红包数量与金额合计
func (r *PacketRepository) SumByActivity(ctx context.Context, activityID int64) (int64, int64, error) {
	var row struct {
		Cnt int64
		Amt int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.RedPacket{}).
		Select("COUNT(*) AS cnt, COALESCE(SUM(amount), 0) AS amt").
		Where("activity_id = ?", activityID).
		Scan(&row).Error
	return row.Cnt, row.Amt, err
}
