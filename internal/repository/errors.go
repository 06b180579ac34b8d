package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrActivityNotFound     = errors.New("活动不存在")
	ErrStatusConflict       = errors.New("活动状态冲突")
	ErrPacketNotFound       = errors.New("红包不存在")
	ErrPacketAlreadyClaimed = errors.New("红包已被领取")
	ErrDuplicateRecord      = errors.New("抢红包记录重复")
	ErrRecordNotFound       = errors.New("抢红包记录不存在")
)

const mysqlErrDuplicateEntry = 1062

// IsDuplicateKey 判断是否为唯一键冲突
// 兼容 TranslateError 翻译后的错误、原始 MySQL 1062 以及 SQLite 的约束错误
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}
