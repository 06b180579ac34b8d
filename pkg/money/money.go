package money

import (
	"github.com/shopspring/decimal"
)

// Yuan 把分转换成元的展示字符串，固定两位小数
func Yuan(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseYuan 把元转换为分，超过两位的小数直接拒绝而不是四舍五入
func ParseYuan(yuan string) (int64, bool) {
	d, err := decimal.NewFromString(yuan)
	if err != nil {
		return 0, false
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, false
	}
	return cents.IntPart(), true
}
