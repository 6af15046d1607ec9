package app

import (
	"fmt"
	"strings"

	"quantsim/internal/backtest"
	qcfg "quantsim/internal/config"
	cfgloader "quantsim/internal/config/loader"
	"quantsim/internal/indicator"
	"quantsim/internal/logger"
	"quantsim/internal/risk"
	"quantsim/internal/strategy"
	backtesthttp "quantsim/internal/transport/http/backtest"
)

const defaultProfileName = "default"

// engineOptions 把配置映射为回测参数。
func engineOptions(cfg *qcfg.Config) backtest.Options {
	e, r, ind := cfg.Engine, cfg.Risk, cfg.Indicators
	return backtest.Options{
		InitialCapital:   e.InitialCapital,
		CommissionRate:   e.CommissionRate,
		Slippage:         e.Slippage,
		SignalThreshold:  e.SignalThreshold,
		LookbackDays:     e.LookbackDays,
		CooldownDays:     e.CooldownDays,
		MinConsensus:     e.MinConsensus,
		RiskFreeRate:     e.RiskFreeRate,
		EnforceDailyLoss: e.EnforceDailyLoss,
		ConfidenceDecay:  e.ConfidenceDecay,
		Limits: risk.Limits{
			MaxPositionPct:        r.MaxPositionPct,
			MaxTotalPositionPct:   r.MaxTotalPositionPct,
			StopLossPct:           r.StopLossPct,
			TakeProfitPct:         r.TakeProfitPct,
			MaxDrawdownPct:        r.MaxDrawdownPct,
			MaxDailyLossPct:       r.MaxDailyLossPct,
			TrailingStopPct:       r.TrailingStopPct,
			TrailingActivationPct: r.TrailingActivationPct,
		},
		Indicators: indicator.Settings{
			SMAPeriods: append([]int(nil), ind.SMAPeriods...),
			RSIPeriod:  ind.RSIPeriod,
			MACDFast:   ind.MACDFast,
			MACDSlow:   ind.MACDSlow,
			MACDSignal: ind.MACDSignal,
			BBPeriod:   ind.BBPeriod,
			BBStdDev:   ind.BBStdDev,
			ATRPeriod:  ind.ATRPeriod,
		},
	}
}

// newStrategyFactory 按 profile 名称解析策略组合。
// 名称为空或 "default" 且 profile 文件中没有对应项时，回退到主配置的 strategies。
func newStrategyFactory(defaults []qcfg.StrategyConfig, profiles backtesthttp.ProfileSource) backtest.StrategyFactory {
	return func(name string) ([]strategy.Strategy, float64, error) {
		name = strings.ToLower(strings.TrimSpace(name))
		if profiles != nil {
			if def, ok := profiles.Snapshot().Resolve(name); ok {
				list, err := strategy.Build(def.Strategies)
				if err != nil {
					return nil, 0, fmt.Errorf("profile %s: %w", def.Name, err)
				}
				return list, def.SignalThreshold, nil
			}
		}
		if name != "" && name != defaultProfileName {
			return nil, 0, fmt.Errorf("未知 profile %q", name)
		}
		list, err := strategy.Build(defaults)
		return list, 0, err
	}
}

func loadProfiles(path string) (*cfgloader.ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	loader, err := cfgloader.NewProfileLoader(path, true)
	if err != nil {
		return nil, fmt.Errorf("加载 profile 配置失败: %w", err)
	}
	return loader, nil
}

func buildBacktestHTTPServer(cfg qcfg.AppConfig, sim *backtest.Simulator, profiles backtesthttp.ProfileSource, manifests backtesthttp.ManifestReader) (*backtesthttp.Server, error) {
	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:          cfg.HTTPAddr,
		Simulator:     sim,
		Profiles:      profiles,
		Manifests:     manifests,
		RunsPerMinute: cfg.HTTPRunsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	logger.Infof("✓ 回测 HTTP 接口监听 %s", cfg.HTTPAddr)
	return server, nil
}
