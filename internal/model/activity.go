package model

import (
	"time"
)

// 活动状态
const (
	ActivityStatusPending   = "PENDING"
	ActivityStatusActive    = "ACTIVE"
	ActivityStatusEnded     = "ENDED"
	ActivityStatusCancelled = "CANCELLED"
)

// ValidStatusTransitions ENDED 与 CANCELLED 为终态
var ValidStatusTransitions = map[string][]string{
	ActivityStatusPending: {ActivityStatusActive, ActivityStatusCancelled},
	ActivityStatusActive:  {ActivityStatusEnded, ActivityStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 终态活动不再发生任何状态变化
func IsTerminalStatus(status string) bool {
	_, exists := ValidStatusTransitions[status]
	return !exists
}

// RedPacketActivity 红包活动表
// 金额单位统一为分；grabbed_count / grabbed_amount 为冗余统计，只增不减
type RedPacketActivity struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"type:varchar(128);not null" json:"name"`
	Description   string    `gorm:"type:varchar(512)" json:"description"`
	TotalAmount   int64     `gorm:"not null" json:"total_amount"`
	TotalCount    int       `gorm:"not null" json:"total_count"`
	MinAmount     int64     `gorm:"not null;default:1" json:"min_amount"`
	MaxAmount     int64     `gorm:"not null;default:0" json:"max_amount"` // 0 表示不限
	Algorithm     string    `gorm:"type:varchar(20);not null" json:"algorithm"`
	GrabbedCount  int       `gorm:"not null;default:0" json:"grabbed_count"`
	GrabbedAmount int64     `gorm:"not null;default:0" json:"grabbed_amount"`
	StartTime     time.Time `gorm:"index;not null" json:"start_time"`
	EndTime       time.Time `gorm:"index;not null" json:"end_time"`
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatorID     int64     `gorm:"index;not null;default:0" json:"creator_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RedPacketActivity) TableName() string {
	return "red_packet_activity"
}

func (a *RedPacketActivity) RemainingCount() int {
	if a.GrabbedCount >= a.TotalCount {
		return 0
	}
	return a.TotalCount - a.GrabbedCount
}

func (a *RedPacketActivity) RemainingAmount() int64 {
	if a.GrabbedAmount >= a.TotalAmount {
		return 0
	}
	return a.TotalAmount - a.GrabbedAmount
}

// InWindow 判断 now 是否落在 [start_time, end_time) 内
func (a *RedPacketActivity) InWindow(now time.Time) bool {
	return !now.Before(a.StartTime) && now.Before(a.EndTime)
}
