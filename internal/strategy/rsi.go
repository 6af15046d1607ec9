package strategy

import (
	"fmt"
	"math"

	"quantsim/internal/indicator"
)

// RSIReversal 超卖区回升买入，超买区回落卖出。
// Period 为 0 时使用全局指标设置中的 rsi 列，否则读取 rsi_<Period>。
type RSIReversal struct {
	name       string
	weight     float64
	Period     int
	Overbought float64
	Oversold   float64
}

func NewRSIReversal(overbought, oversold, weight float64) *RSIReversal {
	if overbought <= 0 || overbought >= 100 {
		overbought = 70
	}
	if oversold <= 0 || oversold >= overbought {
		oversold = 30
	}
	return &RSIReversal{name: "RSI", weight: weight, Overbought: overbought, Oversold: oversold}
}

// WithPeriod 指定 RSI 周期，并把默认名称改为 RSI_<n>。
func (s *RSIReversal) WithPeriod(period int) *RSIReversal {
	if period > 0 {
		s.Period = period
		s.name = fmt.Sprintf("RSI_%d", period)
	}
	return s
}

func (s *RSIReversal) Name() string       { return s.name }
func (s *RSIReversal) Weight() float64    { return s.weight }
func (s *RSIReversal) rename(name string) { s.name = name }

// RSIPeriods 实现 RSIConsumer。
func (s *RSIReversal) RSIPeriods() []int {
	if s.Period > 0 {
		return []int{s.Period}
	}
	return nil
}

func (s *RSIReversal) column() string {
	if s.Period > 0 {
		return indicator.RSI(s.Period)
	}
	return indicator.ColRSI
}

func (s *RSIReversal) GenerateSignals(data *indicator.Enriched, symbol string) ([]Signal, error) {
	col := s.column()
	if err := data.Require(col); err != nil {
		return nil, fmt.Errorf("策略 %s: %w", s.name, err)
	}
	var signals []Signal
	for i := 1; i < data.Len(); i++ {
		prev, cur := data.Value(col, i-1), data.Value(col, i)
		if !bothValid(prev, cur) {
			continue
		}
		meta := map[string]any{"rsi": round(cur, 2), "prev_rsi": round(prev, 2)}
		switch {
		case prev <= s.Oversold && cur > s.Oversold:
			strength := clamp((s.Oversold-math.Min(prev, s.Oversold))/s.Oversold, 0.3, 1)
			signals = append(signals, NewSignal(Buy, strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("RSI超卖反弹: %.1f → %.1f", prev, cur), meta))
		case prev >= s.Overbought && cur < s.Overbought:
			strength := clamp((math.Max(prev, s.Overbought)-s.Overbought)/(100-s.Overbought), 0.3, 1)
			signals = append(signals, NewSignal(Sell, -strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("RSI超买回调: %.1f → %.1f", prev, cur), meta))
		}
	}
	return signals, nil
}
