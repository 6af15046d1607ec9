package risk

// Limits 是一次回测内不可变的风控参数，全部为比例。
type Limits struct {
	MaxPositionPct        float64 `json:"max_position_pct"`
	MaxTotalPositionPct   float64 `json:"max_total_position_pct"`
	StopLossPct           float64 `json:"stop_loss_pct"`
	TakeProfitPct         float64 `json:"take_profit_pct"`
	MaxDrawdownPct        float64 `json:"max_drawdown_pct"`
	MaxDailyLossPct       float64 `json:"max_daily_loss_pct"`
	TrailingStopPct       float64 `json:"trailing_stop_pct"`
	TrailingActivationPct float64 `json:"trailing_activation_pct"`
}

// DefaultLimits 返回风控模块自身的保守默认值。
func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct:        0.25,
		MaxTotalPositionPct:   0.7,
		StopLossPct:           0.07,
		TakeProfitPct:         0.10,
		MaxDrawdownPct:        0.20,
		MaxDailyLossPct:       0.03,
		TrailingStopPct:       0.05,
		TrailingActivationPct: 0.03,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.TrailingStopPct <= 0 {
		l.TrailingStopPct = def.TrailingStopPct
	}
	if l.TrailingActivationPct <= 0 {
		l.TrailingActivationPct = def.TrailingActivationPct
	}
	return l
}
