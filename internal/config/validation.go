package config

import (
	"fmt"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Indicators.validate(); err != nil {
		return err
	}
	if err := validateStrategies(c.Strategies); err != nil {
		return err
	}
	if err := c.Sweep.validate(); err != nil {
		return err
	}
	return nil
}

// Validate 对外暴露校验，供手工构造的配置使用。
func (c *Config) Validate() error {
	return validate(c)
}

func (e *EngineConfig) validate() error {
	if e.InitialCapital <= 0 {
		return fmt.Errorf("engine.initial_capital must be > 0")
	}
	if e.CommissionRate < 0 || e.CommissionRate >= 1 {
		return fmt.Errorf("engine.commission_rate must be in [0, 1)")
	}
	if e.Slippage < 0 || e.Slippage >= 1 {
		return fmt.Errorf("engine.slippage must be in [0, 1)")
	}
	if e.SignalThreshold < 0 || e.SignalThreshold > 1 {
		return fmt.Errorf("engine.signal_threshold must be in [0, 1]")
	}
	if e.LookbackDays <= 0 {
		return fmt.Errorf("engine.lookback_days must be > 0")
	}
	if e.CooldownDays < 0 {
		return fmt.Errorf("engine.cooldown_days must be >= 0")
	}
	if e.MinConsensus <= 0 {
		return fmt.Errorf("engine.min_consensus must be > 0")
	}
	if e.ConfidenceDecay <= 0 || e.ConfidenceDecay > 1 {
		return fmt.Errorf("engine.confidence_decay must be in (0, 1]")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	checks := []struct {
		key string
		val float64
	}{
		{"risk.max_position_pct", r.MaxPositionPct},
		{"risk.max_total_position_pct", r.MaxTotalPositionPct},
		{"risk.stop_loss_pct", r.StopLossPct},
		{"risk.take_profit_pct", r.TakeProfitPct},
		{"risk.max_drawdown_pct", r.MaxDrawdownPct},
		{"risk.max_daily_loss_pct", r.MaxDailyLossPct},
		{"risk.trailing_stop_pct", r.TrailingStopPct},
		{"risk.trailing_activation_pct", r.TrailingActivationPct},
	}
	for _, c := range checks {
		if c.val <= 0 || c.val > 1 {
			return fmt.Errorf("%s must be in (0, 1]", c.key)
		}
	}
	if r.MaxPositionPct > r.MaxTotalPositionPct {
		return fmt.Errorf("risk.max_position_pct cannot exceed risk.max_total_position_pct")
	}
	return nil
}

func (d *DataConfig) validate() error {
	switch d.Source {
	case "synthetic", "csv", "sqlite":
	default:
		return fmt.Errorf("data.source must be one of synthetic/csv/sqlite, got %q", d.Source)
	}
	if len(d.Symbols) == 0 {
		return fmt.Errorf("data.symbols requires at least one symbol")
	}
	start, err := d.Start()
	if err != nil {
		return err
	}
	end, err := d.End()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("data.end_date %s is before data.start_date %s", d.EndDate, d.StartDate)
	}
	return nil
}

// Start 解析 data.start_date，空值返回零时间。
func (d DataConfig) Start() (time.Time, error) {
	return parseOptionalDate("data.start_date", d.StartDate)
}

// End 解析 data.end_date，空值返回零时间。
func (d DataConfig) End() (time.Time, error) {
	return parseOptionalDate("data.end_date", d.EndDate)
}

func parseOptionalDate(key, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
	}
	return t, nil
}

func (i *IndicatorConfig) validate() error {
	for _, p := range i.SMAPeriods {
		if p < 2 {
			return fmt.Errorf("indicators.sma_periods entries must be >= 2")
		}
	}
	if i.MACDFast >= i.MACDSlow {
		return fmt.Errorf("indicators.macd_fast must be < indicators.macd_slow")
	}
	if i.BBStdDev <= 0 {
		return fmt.Errorf("indicators.bb_std_dev must be > 0")
	}
	return nil
}

func validateStrategies(list []StrategyConfig) error {
	if len(list) == 0 {
		return fmt.Errorf("strategies requires at least one entry")
	}
	for idx, s := range list {
		switch s.Kind {
		case "ma_crossover", "rsi", "macd", "bollinger":
		default:
			return fmt.Errorf("strategies[%d].kind unsupported: %q", idx, s.Kind)
		}
		if s.Weight < 0 {
			return fmt.Errorf("strategies[%d].weight must be >= 0", idx)
		}
	}
	return nil
}

func (s *SweepConfig) validate() error {
	for _, t := range s.Thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("sweep.thresholds entries must be in [0, 1]")
		}
	}
	if s.Parallel <= 0 {
		return fmt.Errorf("sweep.parallel must be > 0")
	}
	return nil
}
