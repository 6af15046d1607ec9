package strategy

import (
	"fmt"
	"math"

	"quantsim/internal/indicator"
	"quantsim/internal/pkg/stats"
)

// MACDCross 柱状图由负转正买入，由正转负卖出；强度以柱状图标准差归一。
// Params 为零值时使用全局指标设置中的 macd 列。
type MACDCross struct {
	name   string
	weight float64
	Params indicator.MACDParams
}

func NewMACDCross(weight float64) *MACDCross {
	return &MACDCross{name: "MACD", weight: weight}
}

// WithParams 指定 MACD 周期，并把默认名称改为 MACD_<f>_<s>_<g>。
func (s *MACDCross) WithParams(p indicator.MACDParams) *MACDCross {
	if p != (indicator.MACDParams{}) {
		s.Params = p
		s.name = fmt.Sprintf("MACD_%d_%d_%d", p.Fast, p.Slow, p.Signal)
	}
	return s
}

func (s *MACDCross) Name() string       { return s.name }
func (s *MACDCross) Weight() float64    { return s.weight }
func (s *MACDCross) rename(name string) { s.name = name }

// MACDSets 实现 MACDConsumer。
func (s *MACDCross) MACDSets() []indicator.MACDParams {
	if s.Params == (indicator.MACDParams{}) {
		return nil
	}
	return []indicator.MACDParams{s.Params}
}

func (s *MACDCross) columns() (macd, signal, hist string) {
	if s.Params == (indicator.MACDParams{}) {
		return indicator.ColMACD, indicator.ColMACDSignal, indicator.ColMACDHist
	}
	return s.Params.Columns()
}

func (s *MACDCross) GenerateSignals(data *indicator.Enriched, symbol string) ([]Signal, error) {
	macdCol, signalCol, histCol := s.columns()
	if err := data.Require(macdCol, signalCol, histCol); err != nil {
		return nil, fmt.Errorf("策略 %s: %w", s.name, err)
	}
	hist, _ := data.Column(histCol)
	scale := stats.StdDev(stats.DropNaN(hist))
	if scale == 0 || math.IsNaN(scale) {
		scale = 1
	}
	var signals []Signal
	for i := 1; i < data.Len(); i++ {
		prev, cur := hist[i-1], hist[i]
		if !bothValid(prev, cur) {
			continue
		}
		strength := math.Min(math.Abs(cur)/scale, 1)
		meta := map[string]any{
			"macd":      round(data.Value(macdCol, i), 4),
			"signal":    round(data.Value(signalCol, i), 4),
			"histogram": round(cur, 4),
		}
		switch {
		case prev <= 0 && cur > 0:
			signals = append(signals, NewSignal(Buy, strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("MACD金叉: 柱状图由负转正 (%.4f → %.4f)", prev, cur), meta))
		case prev >= 0 && cur < 0:
			signals = append(signals, NewSignal(Sell, -strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("MACD死叉: 柱状图由正转负 (%.4f → %.4f)", prev, cur), meta))
		}
	}
	return signals, nil
}
