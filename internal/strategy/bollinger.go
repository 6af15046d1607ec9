package strategy

import (
	"fmt"
	"math"

	"quantsim/internal/indicator"
)

// BollingerReversion 收盘价从下轨之外回到带内买入，从上轨之外回落卖出。
type BollingerReversion struct {
	name   string
	weight float64
}

func NewBollingerReversion(weight float64) *BollingerReversion {
	return &BollingerReversion{name: "Bollinger", weight: weight}
}

func (s *BollingerReversion) Name() string       { return s.name }
func (s *BollingerReversion) Weight() float64    { return s.weight }
func (s *BollingerReversion) rename(name string) { s.name = name }

func (s *BollingerReversion) GenerateSignals(data *indicator.Enriched, symbol string) ([]Signal, error) {
	if err := data.Require(indicator.ColClose, indicator.ColBBUpper, indicator.ColBBLower); err != nil {
		return nil, fmt.Errorf("策略 %s: %w", s.name, err)
	}
	var signals []Signal
	for i := 1; i < data.Len(); i++ {
		prevClose, cur := data.Value(indicator.ColClose, i-1), data.Value(indicator.ColClose, i)
		prevUpper, prevLower := data.Value(indicator.ColBBUpper, i-1), data.Value(indicator.ColBBLower, i-1)
		upper, lower := data.Value(indicator.ColBBUpper, i), data.Value(indicator.ColBBLower, i)
		if !bothValid(prevUpper, prevLower) || !bothValid(upper, lower) {
			continue
		}
		width := upper - lower
		if width <= 0 {
			continue
		}
		meta := map[string]any{"bb_upper": round(upper, 2), "bb_lower": round(lower, 2)}
		switch {
		case prevClose < prevLower && cur >= lower:
			strength := clamp(math.Abs(prevLower-prevClose)/width*4, 0.3, 1)
			signals = append(signals, NewSignal(Buy, strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("价格回到布林带下轨之上: %.2f", cur), meta))
		case prevClose > prevUpper && cur <= upper:
			strength := clamp(math.Abs(prevClose-prevUpper)/width*4, 0.3, 1)
			signals = append(signals, NewSignal(Sell, -strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("价格跌回布林带上轨之下: %.2f", cur), meta))
		}
	}
	return signals, nil
}
