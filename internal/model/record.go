package model

import (
	"time"
)

// 入账状态
const (
	AccountUpdatedPending = "PENDING"
	AccountUpdatedApplied = "APPLIED"
)

// RedPacketRecord 抢红包记录表
//
// 唯一约束：
//   - (activity_id, user_id)：同一活动每个用户最多一条
//   - packet_id：一个红包最多被一条记录引用
//   - transaction_no：同时作为入账幂等键
//
// 记录在抢红包事务内同步写入，account_updated 由对账任务异步置为 APPLIED
type RedPacketRecord struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ActivityID      int64      `gorm:"uniqueIndex:uk_record_activity_user,priority:1;not null" json:"activity_id"`
	UserID          int64      `gorm:"uniqueIndex:uk_record_activity_user,priority:2;index:idx_record_user;not null" json:"user_id"`
	PacketID        int64      `gorm:"uniqueIndex:uk_record_packet;not null" json:"packet_id"`
	PacketIndex     int        `gorm:"not null" json:"packet_index"`
	Amount          int64      `gorm:"not null" json:"amount"`
	TransactionNo   string     `gorm:"type:varchar(64);uniqueIndex:uk_record_transaction_no;not null" json:"transaction_no"`
	ClaimTime       time.Time  `gorm:"not null" json:"claim_time"`
	AccountUpdated  string     `gorm:"type:varchar(20);index:idx_record_account_updated;not null" json:"account_updated"`
	SettleAttempts  int        `gorm:"not null;default:0" json:"settle_attempts"`
	LastSettleError string     `gorm:"type:varchar(512)" json:"last_settle_error"`
	SettledAt       *time.Time `json:"settled_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RedPacketRecord) TableName() string {
	return "red_packet_record"
}
