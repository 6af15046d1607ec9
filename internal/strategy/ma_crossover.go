package strategy

import (
	"fmt"
	"math"

	"quantsim/internal/indicator"
)

// MACrossover 均线交叉：短均线上穿长均线买入，下穿卖出。
type MACrossover struct {
	name        string
	weight      float64
	ShortWindow int
	LongWindow  int
}

func NewMACrossover(short, long int, weight float64) *MACrossover {
	if short <= 0 {
		short = 10
	}
	if long <= 0 {
		long = 30
	}
	return &MACrossover{name: "MA_Crossover", weight: weight, ShortWindow: short, LongWindow: long}
}

func (s *MACrossover) Name() string       { return s.name }
func (s *MACrossover) Weight() float64    { return s.weight }
func (s *MACrossover) SMAPeriods() []int  { return []int{s.ShortWindow, s.LongWindow} }
func (s *MACrossover) rename(name string) { s.name = name }

func (s *MACrossover) GenerateSignals(data *indicator.Enriched, symbol string) ([]Signal, error) {
	shortCol, longCol := indicator.SMA(s.ShortWindow), indicator.SMA(s.LongWindow)
	if err := data.Require(indicator.ColClose, shortCol, longCol); err != nil {
		return nil, fmt.Errorf("策略 %s: %w", s.name, err)
	}
	var signals []Signal
	for i := 1; i < data.Len(); i++ {
		prevShort, prevLong := data.Value(shortCol, i-1), data.Value(longCol, i-1)
		short, long := data.Value(shortCol, i), data.Value(longCol, i)
		if !bothValid(prevShort, prevLong) || !bothValid(short, long) {
			continue
		}
		prevDiff := prevShort - prevLong
		diff := short - long
		price := data.Value(indicator.ColClose, i)
		strength := 0.0
		if price > 0 {
			strength = math.Min(math.Abs(diff)/price*10, 1)
		}
		meta := map[string]any{
			"short_ma": round(short, 2),
			"long_ma":  round(long, 2),
		}
		switch {
		case prevDiff <= 0 && diff > 0:
			signals = append(signals, NewSignal(Buy, strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("金叉: SMA%d上穿SMA%d", s.ShortWindow, s.LongWindow), meta))
		case prevDiff >= 0 && diff < 0:
			signals = append(signals, NewSignal(Sell, -strength, symbol, s.name, data.Date(i),
				fmt.Sprintf("死叉: SMA%d下穿SMA%d", s.ShortWindow, s.LongWindow), meta))
		}
	}
	return signals, nil
}
