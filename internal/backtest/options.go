package backtest

import (
	"fmt"

	"quantsim/internal/indicator"
	"quantsim/internal/risk"
)

const (
	defaultInitialCapital = 1_000_000
	defaultLookbackDays   = 5
	defaultCooldownDays   = 10
	defaultMinConsensus   = 2
	defaultRiskFreeRate   = 0.03
	defaultDecay          = 0.95
	tradingDaysPerYear    = 252
)

// Options 是单次回测的参数快照。
type Options struct {
	InitialCapital  float64 `json:"initial_capital"`
	CommissionRate  float64 `json:"commission_rate"`
	Slippage        float64 `json:"slippage"`
	SignalThreshold float64 `json:"signal_threshold"`
	// LookbackDays 是信号融合回看的交易日数（含当日）。
	LookbackDays int `json:"lookback_days"`
	// CooldownDays 按交易日索引计算，不是自然日。
	CooldownDays     int                `json:"cooldown_days"`
	MinConsensus     int                `json:"min_consensus"`
	RiskFreeRate     float64            `json:"risk_free_rate"`
	EnforceDailyLoss bool               `json:"enforce_daily_loss"`
	// ConfidenceDecay 是最新信号分析时融合强度的折扣系数。
	ConfidenceDecay float64            `json:"confidence_decay"`
	Limits          risk.Limits        `json:"limits"`
	Indicators      indicator.Settings `json:"indicators"`
}

func DefaultOptions() Options {
	return Options{
		InitialCapital:  defaultInitialCapital,
		CommissionRate:  0.001,
		Slippage:        0.001,
		SignalThreshold: 0.3,
		LookbackDays:    defaultLookbackDays,
		CooldownDays:    defaultCooldownDays,
		MinConsensus:    defaultMinConsensus,
		RiskFreeRate:    defaultRiskFreeRate,
		ConfidenceDecay: defaultDecay,
		Limits:          risk.DefaultLimits(),
		Indicators:      indicator.DefaultSettings(),
	}
}

// withDefaults 只填补明显缺失的字段；显式的 0 手续费/滑点/冷却保留。
func (o Options) withDefaults() Options {
	if o.InitialCapital <= 0 {
		o.InitialCapital = defaultInitialCapital
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = defaultLookbackDays
	}
	if o.CooldownDays < 0 {
		o.CooldownDays = 0
	}
	if o.MinConsensus <= 0 {
		o.MinConsensus = defaultMinConsensus
	}
	if o.ConfidenceDecay <= 0 {
		o.ConfidenceDecay = defaultDecay
	}
	if o.Limits == (risk.Limits{}) {
		o.Limits = risk.DefaultLimits()
	}
	return o
}

func (o Options) validate() error {
	if o.CommissionRate < 0 || o.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate 需在 [0,1) 范围内")
	}
	if o.Slippage < 0 || o.Slippage >= 1 {
		return fmt.Errorf("slippage 需在 [0,1) 范围内")
	}
	if o.SignalThreshold < 0 || o.SignalThreshold > 1 {
		return fmt.Errorf("signal_threshold 需在 [0,1] 范围内")
	}
	if o.ConfidenceDecay > 1 {
		return fmt.Errorf("confidence_decay 需在 (0,1] 范围内")
	}
	return nil
}
