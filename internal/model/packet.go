package model

import (
	"time"
)

const (
	PacketStatusAvailable = "AVAILABLE"
	PacketStatusClaimed   = "CLAIMED"
)

// RedPacket 红包明细表，活动创建时一次性拆好
// 金额创建后不可变；状态只会从 AVAILABLE 变为 CLAIMED 一次
type RedPacket struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ActivityID  int64      `gorm:"uniqueIndex:uk_packet_activity_index,priority:1;index:idx_packet_activity_status,priority:1;not null" json:"activity_id"`
	PacketIndex int        `gorm:"uniqueIndex:uk_packet_activity_index,priority:2;not null" json:"packet_index"`
	Amount      int64      `gorm:"not null" json:"amount"`
	Status      string     `gorm:"type:varchar(20);index:idx_packet_activity_status,priority:2;not null" json:"status"`
	UserID      int64      `gorm:"not null;default:0" json:"user_id"`
	ClaimTime   *time.Time `json:"claim_time"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RedPacket) TableName() string {
	return "red_packet"
}
