package config

import (
	"strings"

	"quantsim/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultRunsPerMin  = 30
	defaultMaxRuns     = 2

	defaultInitialCapital  = 1_000_000.0
	defaultCommissionRate  = 0.001
	defaultSlippage        = 0.001
	defaultSignalThreshold = 0.3
	defaultLookbackDays    = 5
	defaultCooldownDays    = 10
	defaultMinConsensus    = 2
	defaultRiskFreeRate    = 0.03
	defaultConfidenceDecay = 0.95

	defaultMaxPositionPct        = 0.3
	defaultMaxTotalPositionPct   = 0.8
	defaultStopLossPct           = 0.05
	defaultTakeProfitPct         = 0.15
	defaultMaxDrawdownPct        = 0.15
	defaultMaxDailyLossPct       = 0.03
	defaultTrailingStopPct       = 0.05
	defaultTrailingActivationPct = 0.03

	defaultDataSource = "synthetic"
	defaultDataDir    = "data"
	defaultStartDate  = "2024-01-01"
	defaultEndDate    = "2025-12-31"
	defaultDataSeed   = 42

	defaultRSIPeriod  = 14
	defaultMACDFast   = 12
	defaultMACDSlow   = 26
	defaultMACDSignal = 9
	defaultBBPeriod   = 20
	defaultBBStdDev   = 2.0
	defaultATRPeriod  = 14

	defaultSweepParallel = 4
)

var (
	defaultSymbols    = []string{"000001.SZ", "600519.SH"}
	defaultSMAPeriods = []int{10, 20, 30, 60}
	defaultThresholds = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
)

// DefaultStrategies 返回默认的三策略组合（权重合计为 1）。
func DefaultStrategies() []StrategyConfig {
	return []StrategyConfig{
		{Kind: "ma_crossover", Weight: 0.4, Params: map[string]float64{"short_window": 10, "long_window": 30}},
		{Kind: "rsi", Weight: 0.3, Params: map[string]float64{"overbought": 70, "oversold": 30}},
		{Kind: "macd", Weight: 0.3},
	}
}

// Default 返回全部字段已填充默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(nil)
	return cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Indicators.applyDefaults(keys)
	c.Sweep.applyDefaults(keys)
	if !keys.isSet("strategies") && len(c.Strategies) == 0 {
		c.Strategies = DefaultStrategies()
	}
	for i := range c.Strategies {
		c.Strategies[i].normalize()
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		intFieldDefault("app.http_runs_per_minute", &a.HTTPRunsPerMinute, defaultRunsPerMin),
		intFieldDefault("app.max_concurrent_runs", &a.MaxConcurrentRuns, defaultMaxRuns),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("engine.initial_capital", &e.InitialCapital, defaultInitialCapital),
		floatFieldDefault("engine.commission_rate", &e.CommissionRate, defaultCommissionRate),
		floatFieldDefault("engine.slippage", &e.Slippage, defaultSlippage),
		floatFieldDefault("engine.signal_threshold", &e.SignalThreshold, defaultSignalThreshold),
		intFieldDefault("engine.lookback_days", &e.LookbackDays, defaultLookbackDays),
		intFieldDefault("engine.cooldown_days", &e.CooldownDays, defaultCooldownDays),
		intFieldDefault("engine.min_consensus", &e.MinConsensus, defaultMinConsensus),
		floatFieldDefault("engine.risk_free_rate", &e.RiskFreeRate, defaultRiskFreeRate),
		floatFieldDefault("engine.confidence_decay", &e.ConfidenceDecay, defaultConfidenceDecay),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_position_pct", &r.MaxPositionPct, defaultMaxPositionPct),
		floatFieldDefault("risk.max_total_position_pct", &r.MaxTotalPositionPct, defaultMaxTotalPositionPct),
		floatFieldDefault("risk.stop_loss_pct", &r.StopLossPct, defaultStopLossPct),
		floatFieldDefault("risk.take_profit_pct", &r.TakeProfitPct, defaultTakeProfitPct),
		floatFieldDefault("risk.max_drawdown_pct", &r.MaxDrawdownPct, defaultMaxDrawdownPct),
		floatFieldDefault("risk.max_daily_loss_pct", &r.MaxDailyLossPct, defaultMaxDailyLossPct),
		floatFieldDefault("risk.trailing_stop_pct", &r.TrailingStopPct, defaultTrailingStopPct),
		floatFieldDefault("risk.trailing_activation_pct", &r.TrailingActivationPct, defaultTrailingActivationPct),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.dir", &d.Dir, defaultDataDir),
		stringFieldDefault("data.start_date", &d.StartDate, defaultStartDate),
		stringFieldDefault("data.end_date", &d.EndDate, defaultEndDate),
		fieldDefault{
			key:   "data.symbols",
			need:  func() bool { return len(d.Symbols) == 0 },
			apply: func() { d.Symbols = append([]string(nil), defaultSymbols...) },
		},
		fieldDefault{
			key:   "data.seed",
			need:  func() bool { return d.Seed == 0 },
			apply: func() { d.Seed = defaultDataSeed },
		},
	)
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
	d.Symbols = symbol.NormalizeList(d.Symbols)
}

func (i *IndicatorConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "indicators.sma_periods",
			need:  func() bool { return len(i.SMAPeriods) == 0 },
			apply: func() { i.SMAPeriods = append([]int(nil), defaultSMAPeriods...) },
		},
		intFieldDefault("indicators.rsi_period", &i.RSIPeriod, defaultRSIPeriod),
		intFieldDefault("indicators.macd_fast", &i.MACDFast, defaultMACDFast),
		intFieldDefault("indicators.macd_slow", &i.MACDSlow, defaultMACDSlow),
		intFieldDefault("indicators.macd_signal", &i.MACDSignal, defaultMACDSignal),
		intFieldDefault("indicators.bb_period", &i.BBPeriod, defaultBBPeriod),
		floatFieldDefault("indicators.bb_std_dev", &i.BBStdDev, defaultBBStdDev),
		intFieldDefault("indicators.atr_period", &i.ATRPeriod, defaultATRPeriod),
	)
}

func (s *SweepConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sweep.thresholds",
			need:  func() bool { return len(s.Thresholds) == 0 },
			apply: func() { s.Thresholds = append([]float64(nil), defaultThresholds...) },
		},
		intFieldDefault("sweep.parallel", &s.Parallel, defaultSweepParallel),
	)
}

func (s *StrategyConfig) normalize() {
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	s.Name = strings.TrimSpace(s.Name)
	if len(s.Params) == 0 {
		return
	}
	params := make(map[string]float64, len(s.Params))
	for k, v := range s.Params {
		params[strings.ToLower(strings.TrimSpace(k))] = v
	}
	s.Params = params
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// floatFieldDefault 仅在键未显式出现且值为 0 时生效，显式写 0 会被保留。
func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
