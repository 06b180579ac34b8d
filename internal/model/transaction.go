package model

import (
	"time"
)

const (
	TransactionTypeRedPacket = "RED_PACKET" // 红包入账
)

// AccountTransaction 账户流水表
//
// 流水只追加不修改。transaction_no 由调用方传入的幂等键充当，
// 唯一索引保证同一个幂等键最多入账一次
type AccountTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	BizNo         string    `gorm:"type:varchar(64);index;not null" json:"biz_no"` // 业务单号，红包入账时为流水号本身
	Amount        int64     `gorm:"not null" json:"amount"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
