package risk

import (
	"fmt"
	"math"

	"quantsim/internal/logger"
	"quantsim/internal/pkg/stats"
)

// Limiter 负责交易前的仓位检查与持仓期间的止损/回撤判断。
// 除峰值权益与当日起始权益外不持有任何持仓状态。
type Limiter struct {
	limits           Limits
	peakEquity       float64
	dailyStartEquity float64
}

func NewLimiter(limits Limits) *Limiter {
	return &Limiter{limits: limits.withDefaults()}
}

func (l *Limiter) Limits() Limits { return l.limits }

func (l *Limiter) PeakEquity() float64 { return l.peakEquity }

// CheckPositionSize 检查单标的仓位占比；超限但仍有空间时按剩余额度裁剪数量。
func (l *Limiter) CheckPositionSize(symbol string, proposedQty int, price, portfolioValue, currentPositionValue float64) (bool, int, string) {
	if portfolioValue <= 0 {
		return false, 0, "投资组合价值为零"
	}
	if price <= 0 {
		return false, 0, "价格无效"
	}
	newValue := currentPositionValue + float64(proposedQty)*price
	if newValue/portfolioValue <= l.limits.MaxPositionPct {
		return true, proposedQty, "通过"
	}
	maxValue := l.limits.MaxPositionPct*portfolioValue - currentPositionValue
	if maxValue <= 0 {
		return false, 0, fmt.Sprintf("%s 仓位已达上限 (%.0f%%)", symbol, l.limits.MaxPositionPct*100)
	}
	adjusted := int(math.Floor(maxValue / price))
	if adjusted <= 0 {
		return false, 0, fmt.Sprintf("%s 仓位已达上限", symbol)
	}
	logger.Debugf("[risk] 仓位限制: %s 数量从 %d 调整至 %d", symbol, proposedQty, adjusted)
	return true, adjusted, fmt.Sprintf("仓位限制: 数量调整至 %d", adjusted)
}

// CheckTotalExposure 检查加上本笔交易后的总仓位占比。
func (l *Limiter) CheckTotalExposure(totalPositionValue, proposedTradeValue, portfolioValue float64) (bool, string) {
	if portfolioValue <= 0 {
		return false, "投资组合价值为零"
	}
	exposure := (totalPositionValue + proposedTradeValue) / portfolioValue
	if exposure > l.limits.MaxTotalPositionPct {
		return false, fmt.Sprintf("总仓位暴露 %.1f%% 超过限制 %.0f%%", exposure*100, l.limits.MaxTotalPositionPct*100)
	}
	return true, "通过"
}

// CheckStopLoss 亏损比例达到止损线（含等于）时触发。
func (l *Limiter) CheckStopLoss(entryPrice, currentPrice float64) (bool, string) {
	if entryPrice <= 0 {
		return false, "建仓价格无效"
	}
	loss := (entryPrice - currentPrice) / entryPrice
	if loss >= l.limits.StopLossPct {
		return true, fmt.Sprintf("触发止损: 亏损 %.2f%% >= %.0f%%", loss*100, l.limits.StopLossPct*100)
	}
	return false, "未触发止损"
}

// CheckTakeProfit 盈利比例达到止盈线（含等于）时触发。
func (l *Limiter) CheckTakeProfit(entryPrice, currentPrice float64) (bool, string) {
	if entryPrice <= 0 {
		return false, "建仓价格无效"
	}
	profit := (currentPrice - entryPrice) / entryPrice
	if profit >= l.limits.TakeProfitPct {
		return true, fmt.Sprintf("触发止盈: 盈利 %.2f%% >= %.0f%%", profit*100, l.limits.TakeProfitPct*100)
	}
	return false, "未触发止盈"
}

// CheckTrailingStop 持仓最高价相对成本的涨幅达到激活线后，
// 从最高价回撤超过 TrailingStopPct 即触发。highest 由调用方维护。
func (l *Limiter) CheckTrailingStop(entryPrice, currentPrice, highest float64) (bool, string) {
	if entryPrice <= 0 || highest <= 0 {
		return false, "价格无效"
	}
	if (highest-entryPrice)/entryPrice < l.limits.TrailingActivationPct {
		return false, "未达到移动止损激活条件"
	}
	pullback := (highest - currentPrice) / highest
	if pullback >= l.limits.TrailingStopPct {
		return true, fmt.Sprintf("触发移动止损: 从高点 %.2f 回撤 %.2f%% >= %.0f%%", highest, pullback*100, l.limits.TrailingStopPct*100)
	}
	return false, "未触发移动止损"
}

// CheckMaxDrawdown 先更新峰值权益，再判断回撤是否达到上限。
func (l *Limiter) CheckMaxDrawdown(currentEquity float64) (bool, string) {
	l.UpdatePeakEquity(currentEquity)
	if l.peakEquity <= 0 {
		return false, "权益数据无效"
	}
	dd := (l.peakEquity - currentEquity) / l.peakEquity
	if dd >= l.limits.MaxDrawdownPct {
		return true, fmt.Sprintf("触发最大回撤限制: 回撤 %.2f%% >= %.0f%%", dd*100, l.limits.MaxDrawdownPct*100)
	}
	return false, fmt.Sprintf("当前回撤: %.2f%%", dd*100)
}

// CheckDailyLoss 判断相对当日起始权益的亏损是否达到上限。
func (l *Limiter) CheckDailyLoss(currentEquity, startEquity float64) (bool, string) {
	if startEquity <= 0 {
		return false, "起始权益无效"
	}
	loss := (startEquity - currentEquity) / startEquity
	if loss >= l.limits.MaxDailyLossPct {
		return true, fmt.Sprintf("触发单日亏损限制: 日亏 %.2f%% >= %.0f%%", loss*100, l.limits.MaxDailyLossPct*100)
	}
	return false, fmt.Sprintf("当日盈亏: %.2f%%", -loss*100)
}

// BeginDay 记录当日起始权益，供 CheckDailyLoss 使用。
func (l *Limiter) BeginDay(equity float64) { l.dailyStartEquity = equity }

func (l *Limiter) DailyStartEquity() float64 { return l.dailyStartEquity }

// CalculatePositionSize 按信号强度分配目标仓位；atr > 0 时按波动率缩小，不会放大。
func (l *Limiter) CalculatePositionSize(portfolioValue, price, strength, atr float64) int {
	if portfolioValue <= 0 || price <= 0 {
		return 0
	}
	pct := math.Abs(strength) * l.limits.MaxPositionPct
	if atr > 0 {
		pct *= math.Min(price/(atr*20), 1)
	}
	qty := int(math.Floor(portfolioValue * pct / price))
	return max(qty, 0)
}

func (l *Limiter) UpdatePeakEquity(equity float64) {
	if equity > l.peakEquity {
		l.peakEquity = equity
	}
}

// Reset 清空峰值与当日状态。
func (l *Limiter) Reset() {
	l.peakEquity = 0
	l.dailyStartEquity = 0
}

// ValueAtRisk 返回历史 VaR（正数表示亏损）。
func ValueAtRisk(returns []float64, confidence float64) float64 {
	clean := stats.DropNaN(returns)
	if len(clean) == 0 {
		return 0
	}
	return -stats.Percentile(clean, (1-confidence)*100)
}

// MaxDrawdown 返回权益序列从峰值到谷底的最大相对回撤，单调不降时为 0。
func MaxDrawdown(equity []float64) float64 {
	peak, worst := 0.0, 0.0
	for i, v := range equity {
		if i == 0 || v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}
