package backtest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"quantsim/internal/logger"
	"quantsim/internal/market"
	"quantsim/internal/strategy"
)

// SweepPoint 是单个信号门槛下的回测概要。
type SweepPoint struct {
	Threshold   float64 `json:"threshold"`
	TotalTrades int     `json:"total_trades"`
	FinalEquity float64 `json:"final_equity"`
	TotalReturn float64 `json:"total_return"`
	WinRate     float64 `json:"win_rate"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Error       string  `json:"error,omitempty"`
}

// Sweep 对每个门槛独立回测，结果按 thresholds 的顺序返回。
// 每个回测各自持有 Portfolio/Limiter/Executor，互不共享状态；策略与行情只读。
// 单个门槛参数无效或回测出错只记录在该点的 Error 上，不影响其它门槛；
// 除 thresholds 为空外，只有 ctx 被取消时才返回错误。
func Sweep(ctx context.Context, base Options, thresholds []float64, strategies []strategy.Strategy, data map[string]market.Series, parallel int) ([]SweepPoint, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("thresholds 不能为空")
	}
	if parallel <= 0 {
		parallel = 1
	}
	points := make([]SweepPoint, len(thresholds))
	testers := make([]*Backtester, len(thresholds))
	for i, th := range thresholds {
		opts := base
		opts.SignalThreshold = th
		bt, err := New(opts)
		if err != nil {
			points[i] = SweepPoint{Threshold: th, Error: fmt.Sprintf("参数无效: %v", err)}
			continue
		}
		testers[i] = bt
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, bt := range testers {
		if bt == nil {
			continue
		}
		th := thresholds[i]
		g.Go(func() error {
			res, err := bt.RunContext(gctx, strategies, data)
			if err != nil {
				points[i] = SweepPoint{Threshold: th, Error: fmt.Sprintf("回测失败: %v", err)}
				return nil
			}
			points[i] = summarize(th, res)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for _, p := range points {
		if p.Error != "" && p.Error != ErrNoData {
			failed++
		}
	}
	if failed > 0 {
		logger.Warnf("[backtest] 参数扫描完成: %d 组门槛，其中 %d 组失败", len(points), failed)
	} else {
		logger.Infof("[backtest] 参数扫描完成: %d 组门槛", len(points))
	}
	return points, nil
}

func summarize(threshold float64, res *Result) SweepPoint {
	m := res.Metrics
	p := SweepPoint{
		Threshold:   threshold,
		TotalTrades: m.TotalTrades,
		FinalEquity: m.FinalEquity,
		TotalReturn: m.TotalReturn,
		WinRate:     m.WinRate,
		Error:       m.Error,
	}
	if m.Returns != nil {
		p.SharpeRatio = m.Returns.SharpeRatio
		p.MaxDrawdown = m.Returns.MaxDrawdown
	}
	return p
}
