// Package money 提供金额精度处理（分位四舍五入）。
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundCents 将金额四舍五入到两位小数（half-up）。
// 先转为 decimal 再取整，避免 100.105 这类二进制误差导致的向下取整。
func RoundCents(val float64) float64 {
	return Round(val, 2)
}

// Round 按 places 位小数四舍五入。
func Round(val float64, places int32) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return val
	}
	f, _ := decimal.NewFromFloat(val).Round(places).Float64()
	return f
}
