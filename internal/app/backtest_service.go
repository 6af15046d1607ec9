package app

import (
	"context"

	"quantsim/internal/backtest"
	cfgloader "quantsim/internal/config/loader"
	"quantsim/internal/logger"
	backtesthttp "quantsim/internal/transport/http/backtest"
)

// BacktestService 管理行情、回测任务与 HTTP 暴露。
type BacktestService struct {
	market   *MarketStack
	profiles *cfgloader.ProfileLoader
	sim      *backtest.Simulator
	server   *backtesthttp.Server
}

// Start 绑定上下文，之后异步提交的任务随 ctx 取消。
func (b *BacktestService) Start(ctx context.Context) {
	if b == nil {
		return
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
	if b.profiles != nil {
		b.profiles.Subscribe(func(snap cfgloader.ProfileSnapshot) {
			logger.Infof("[profiles] v%d 可用: %v", snap.Version, snap.Names())
		})
	}
}

// Close 释放回测相关资源。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	b.market.Close()
}
