package backtest

import (
	"fmt"
	"math"
	"strings"

	"quantsim/internal/execution"
	"quantsim/internal/pkg/stats"
	"quantsim/internal/portfolio"
	"quantsim/internal/risk"
)

// ErrNoData 是行情为空时写入 Metrics.Error 的标记。
const ErrNoData = "无有效数据"

// Result 是回测结束后的只读快照。
type Result struct {
	EquityCurve  []portfolio.EquitySnapshot `json:"equity_curve"`
	Trades       []portfolio.TradeRecord    `json:"trades"`
	Orders       []execution.Order          `json:"orders"`
	// DailyReturns[i] 是 EquityCurve[i] 到 EquityCurve[i+1] 的收益率。
	DailyReturns []float64                  `json:"daily_returns"`
	Holdings     []portfolio.Holding        `json:"holdings"`
	Metrics      Metrics                    `json:"metrics"`
}

// Metrics 汇总收益与交易统计；Returns 仅在至少有一个日收益时存在。
type Metrics struct {
	InitialCapital  float64      `json:"initial_capital"`
	FinalEquity     float64      `json:"final_equity"`
	TotalReturn     float64      `json:"total_return"`
	TotalPnL        float64      `json:"total_pnl"`
	RealizedPnL     float64      `json:"realized_pnl"`
	UnrealizedPnL   float64      `json:"unrealized_pnl"`
	TotalTrades     int          `json:"total_trades"`
	BuyTrades       int          `json:"buy_trades"`
	SellTrades      int          `json:"sell_trades"`
	WinningTrades   int          `json:"winning_trades"`
	LosingTrades    int          `json:"losing_trades"`
	WinRate         float64      `json:"win_rate"`
	TotalCommission float64      `json:"total_commission"`
	RejectedOrders  int          `json:"rejected_orders"`
	TradingDays     int          `json:"trading_days"`
	Returns         *ReturnStats `json:"returns,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// ReturnStats 是基于日收益序列的年化风险收益指标（按 252 个交易日年化）。
type ReturnStats struct {
	AnnualizedReturn float64 `json:"annualized_return"`
	AnnualVolatility float64 `json:"annual_volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	VaR95            float64 `json:"var_95"`
}

func emptyResult(opts Options) *Result {
	return &Result{
		EquityCurve: []portfolio.EquitySnapshot{},
		Trades:      []portfolio.TradeRecord{},
		Metrics: Metrics{
			InitialCapital: opts.InitialCapital,
			FinalEquity:    opts.InitialCapital,
			Error:          ErrNoData,
		},
	}
}

func newResult(opts Options, pf *portfolio.Portfolio, exec *execution.Executor) *Result {
	curve := pf.EquityCurve()
	equity := make([]float64, len(curve))
	for i, snap := range curve {
		equity[i] = snap.Equity
	}
	res := &Result{
		EquityCurve:  curve,
		Trades:       pf.Trades(),
		Orders:       exec.Orders(),
		DailyReturns: stats.PctChange(equity),
		Holdings:     pf.Holdings(),
	}
	res.Metrics = computeMetrics(opts, pf, exec, equity, res.DailyReturns)
	return res
}

func computeMetrics(opts Options, pf *portfolio.Portfolio, exec *execution.Executor, equity, returns []float64) Metrics {
	sum := pf.TradeSummary()
	m := Metrics{
		InitialCapital: opts.InitialCapital,
		FinalEquity:    pf.TotalEquity(),
		TotalReturn:    pf.TotalReturn(),
		TotalPnL:       pf.TotalEquity() - opts.InitialCapital,
		RealizedPnL:    pf.RealizedPnL(),
		UnrealizedPnL:  pf.UnrealizedPnL(),
		TotalTrades:    sum.TotalTrades,
		BuyTrades:      sum.BuyTrades,
		SellTrades:     sum.SellTrades,
		WinningTrades:  sum.WinningTrades,
		LosingTrades:   sum.LosingTrades,
		WinRate:        sum.WinRate,
		RejectedOrders: len(exec.RejectedOrders()),
		TradingDays:    len(equity),
	}
	for _, t := range pf.Trades() {
		m.TotalCommission += t.Commission
	}
	if len(returns) > 0 {
		rs := computeReturnStats(m.TotalReturn, opts.RiskFreeRate, equity, returns)
		m.Returns = &rs
	}
	return m
}

func computeReturnStats(totalReturn, riskFree float64, equity, returns []float64) ReturnStats {
	var rs ReturnStats
	n := float64(len(returns))
	rs.AnnualizedReturn = math.Pow(1+totalReturn, tradingDaysPerYear/n) - 1
	rs.AnnualVolatility = stats.StdDev(returns) * math.Sqrt(tradingDaysPerYear)
	excess := rs.AnnualizedReturn - riskFree
	if rs.AnnualVolatility > 0 {
		rs.SharpeRatio = excess / rs.AnnualVolatility
	}
	rs.MaxDrawdown = risk.MaxDrawdown(equity)

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 0 {
		if dv := stats.StdDev(downside) * math.Sqrt(tradingDaysPerYear); dv > 0 {
			rs.SortinoRatio = excess / dv
		}
	}
	if rs.MaxDrawdown > 0 {
		rs.CalmarRatio = rs.AnnualizedReturn / rs.MaxDrawdown
	}
	rs.VaR95 = risk.ValueAtRisk(returns, 0.95)
	return rs
}

// Summary 生成中文文本报告，附带卖出交易的盈亏诊断。
func (r *Result) Summary() string {
	sep := strings.Repeat("=", 60)
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	line(sep)
	line("回测绩效报告")
	line(sep)
	m := r.Metrics
	if m.Error != "" {
		line("  error: %s", m.Error)
		line(sep)
		return b.String()
	}
	line("  初始资金: %.2f", m.InitialCapital)
	line("  最终权益: %.2f", m.FinalEquity)
	line("  总收益率: %.4f", m.TotalReturn)
	line("  总盈亏: %.2f (已实现 %.2f / 未实现 %.2f)", m.TotalPnL, m.RealizedPnL, m.UnrealizedPnL)
	line("  成交笔数: %d (买 %d / 卖 %d)", m.TotalTrades, m.BuyTrades, m.SellTrades)
	line("  盈利/亏损: %d / %d, 胜率 %.4f", m.WinningTrades, m.LosingTrades, m.WinRate)
	line("  被拒订单: %d", m.RejectedOrders)
	line("  交易日: %d", m.TradingDays)
	if rs := m.Returns; rs != nil {
		line("  年化收益: %.4f", rs.AnnualizedReturn)
		line("  年化波动: %.4f", rs.AnnualVolatility)
		line("  夏普比率: %.4f", rs.SharpeRatio)
		line("  最大回撤: %.4f", rs.MaxDrawdown)
		line("  索提诺比率: %.4f", rs.SortinoRatio)
		line("  卡玛比率: %.4f", rs.CalmarRatio)
		line("  日 VaR(95%%): %.4f", rs.VaR95)
	}
	line(sep)
	r.writeDiagnostics(line, sep)
	return b.String()
}

func (r *Result) writeDiagnostics(line func(string, ...any), sep string) {
	var wins, losses []float64
	for _, t := range r.Trades {
		if t.Side != portfolio.SideSell {
			continue
		}
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else {
			losses = append(losses, t.PnL)
		}
	}
	if len(wins)+len(losses) == 0 {
		return
	}
	line("")
	line("  --- 交易诊断 ---")
	line("  总手续费: %.2f", r.Metrics.TotalCommission)
	avgWin, avgLoss := stats.Mean(wins), stats.Mean(losses)
	if len(wins) > 0 {
		line("  平均盈利: +%.2f", avgWin)
	}
	if len(losses) > 0 {
		line("  平均亏损: %.2f", avgLoss)
	}
	if len(wins) > 0 && len(losses) > 0 && avgLoss != 0 {
		ratio := math.Abs(avgWin / avgLoss)
		line("  盈亏比: %.2f", ratio)
		if ratio < 1 {
			line("  ⚠ 盈亏比<1: 平均每笔赚的不够亏的多")
		}
	}
	line(sep)
}
